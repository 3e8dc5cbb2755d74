package exporter

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/model"
)

type snapshotCollector struct {
	snap model.Snapshot
}

func (c snapshotCollector) Describe(ch chan<- *prometheus.Desc) { describe(ch) }

func (c snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	collectSnapshot(ch, c.snap, cycleOf(c.snap), zap.NewNop().Sugar())
}

// Render writes snap in the Prometheus text format. Families and series are sorted, so
// the same snapshot always renders to the same bytes.
func Render(w io.Writer, snap model.Snapshot) error {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(snapshotCollector{snap: snap}); err != nil {
		return fmt.Errorf("register snapshot: %w", err)
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather snapshot: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
