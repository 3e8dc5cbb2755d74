package exporter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/model"
)

const namespace = "racknerd"

var hostLabel = []string{"hostname"}

func newDesc(name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var (
	infoDesc      = newDesc("vm_info", "VM information.", []string{"hostname", "ip_address", "os", "vm_type"})
	stateDesc     = newDesc("vm_state", "VM power state (1 = online, 0 = offline or unknown).", hostLabel)
	availableDesc = newDesc("vm_stats_available", "Whether statistics were retrieved for the VM in the served cycle.", hostLabel)

	successDesc   = newDesc("collection_success", "Whether the last collection cycle succeeded.", nil)
	timestampDesc = newDesc("last_collection_timestamp_seconds", "Start time of the served collection cycle.", nil)
	durationDesc  = newDesc("collection_duration_seconds", "Duration of the last collection cycle.", nil)
	loginsDesc    = newDesc("panel_logins_total", "Login exchanges attempted against the panel.", nil)

	usageDescs = map[string]usageDesc{
		"bandwidth": newUsageDesc("bandwidth", "Monthly bandwidth"),
		"disk":      newUsageDesc("disk", "Disk"),
		"memory":    newUsageDesc("memory", "Memory"),
		"vswap":     newUsageDesc("vswap", "VSwap"),
	}
	usageOrder = []string{"bandwidth", "disk", "memory", "vswap"}
)

type usageDesc struct {
	total, used, percent *prometheus.Desc
}

func newUsageDesc(name, what string) usageDesc {
	return usageDesc{
		total:   newDesc(name+"_total_bytes", what+" total in bytes.", hostLabel),
		used:    newDesc(name+"_used_bytes", what+" used in bytes.", hostLabel),
		percent: newDesc(name+"_usage_percent", what+" usage percentage.", hostLabel),
	}
}

func describe(ch chan<- *prometheus.Desc) {
	ch <- infoDesc
	ch <- stateDesc
	ch <- availableDesc
	for _, name := range usageOrder {
		d := usageDescs[name]
		ch <- d.total
		ch <- d.used
		ch <- d.percent
	}
	ch <- successDesc
	ch <- timestampDesc
	ch <- durationDesc
}

// collectSnapshot emits the series of one snapshot. Usage series are only emitted for
// figures the VM reported.
func collectSnapshot(ch chan<- prometheus.Metric, snap model.Snapshot, status cycle, logger *zap.SugaredLogger) {
	hosts := hostLabels(snap.Entries)
	for i, e := range snap.Entries {
		host := hosts[i]
		if host != e.VM.Hostname {
			logger.Debugw("duplicate hostname, labelled with vm id", "hostname", e.VM.Hostname, "vm_id", e.VM.ID)
		}
		ch <- prometheus.MustNewConstMetric(infoDesc, prometheus.GaugeValue, 1,
			host, e.VM.IPAddress, e.VM.OS, string(e.VM.Kind))

		stats := e.Outcome.Stats
		if stats == nil {
			ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, 0, host)
			ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, 0, host)
			continue
		}

		ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, boolValue(stats.State == model.StateOnline), host)
		ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, 1, host)

		emitUsage(ch, usageDescs["bandwidth"], &stats.Bandwidth, host)
		emitUsage(ch, usageDescs["disk"], &stats.Disk, host)
		emitUsage(ch, usageDescs["memory"], stats.Memory, host)
		emitUsage(ch, usageDescs["vswap"], stats.VSwap, host)
	}

	if !status.done {
		return
	}
	ch <- prometheus.MustNewConstMetric(successDesc, prometheus.GaugeValue, boolValue(status.success))
	ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.GaugeValue, status.duration.Seconds())
	if !snap.StartedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(timestampDesc, prometheus.GaugeValue, float64(snap.StartedAt.UnixMilli())/1000)
	}
}

func emitUsage(ch chan<- prometheus.Metric, d usageDesc, u *model.Usage, host string) {
	if u == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(d.total, prometheus.GaugeValue, u.TotalBytes, host)
	ch <- prometheus.MustNewConstMetric(d.used, prometheus.GaugeValue, u.UsedBytes, host)
	ch <- prometheus.MustNewConstMetric(d.percent, prometheus.GaugeValue, u.Percent, host)
}

// hostLabels returns the hostname label of every entry. Hostnames shared by several VMs
// get the VM id appended so the series stay distinct.
func hostLabels(entries []model.Entry) []string {
	count := make(map[string]int, len(entries))
	for _, e := range entries {
		count[e.VM.Hostname]++
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.VM.Hostname
		if count[e.VM.Hostname] > 1 {
			out[i] = fmt.Sprintf("%s/%s", e.VM.Hostname, e.VM.ID)
		}
	}
	return out
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
