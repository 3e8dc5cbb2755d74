package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/and161185/racknerd-exporter/internal/units"
	"github.com/and161185/racknerd-exporter/model"
)

// detailPayload is the answer of _vm_remote.php?act=getstatsdiskusage.
type detailPayload struct {
	Success scalar `json:"success"`
	Message scalar `json:"msg"`
	State   scalar `json:"state"`

	TotalBW   scalar `json:"totalbw"`
	UsedBW    scalar `json:"usedbw"`
	PercentBW scalar `json:"percentbw"`

	TotalHDD   scalar `json:"totalhdd"`
	UsedHDD    scalar `json:"usedhdd"`
	PercentHDD scalar `json:"percenthdd"`

	TotalMem   scalar `json:"totalmem"`
	UsedMem    scalar `json:"usedmem"`
	PercentMem scalar `json:"percentmem"`

	TotalVSwap   scalar `json:"totalvswap"`
	UsedVSwap    scalar `json:"usedvswap"`
	PercentVSwap scalar `json:"percentvswap"`
}

// CheckDetail classifies a detail response before it is parsed: a login page means the
// session expired, a payload with success other than 1 is a refusal for this VM.
// Malformed payloads pass and are reported by ParseVMDetail.
func CheckDetail(raw []byte) error {
	var p detailPayload
	if err := json.Unmarshal(bytes.TrimSpace(raw), &p); err != nil {
		if IsLoginPage(raw) {
			return ErrLoginRequired
		}
		return nil
	}
	if !p.Success.isOne() {
		if p.Message.null() {
			return ErrRejected
		}
		return fmt.Errorf("%w: %s", ErrRejected, p.Message.raw)
	}
	return nil
}

// ParseVMDetail converts a detail payload into stats. Memory and vswap are only read for
// kinds that report them, and only when the panel sends a total.
func ParseVMDetail(raw []byte, kind model.Kind) (model.VMStats, error) {
	var p detailPayload
	if err := json.Unmarshal(bytes.TrimSpace(raw), &p); err != nil {
		return model.VMStats{}, fieldErr("payload", snippet(raw), fmt.Errorf("%w: %v", ErrBadPayload, err))
	}
	if !p.Success.isOne() {
		return model.VMStats{}, fieldErr("success", p.Success.raw, ErrRejected)
	}

	var (
		stats model.VMStats
		err   error
	)
	stats.State = parseState(p.State)

	if stats.Bandwidth, err = parseUsage("bandwidth", p.TotalBW, p.UsedBW, p.PercentBW); err != nil {
		return model.VMStats{}, err
	}
	if stats.Disk, err = parseUsage("disk", p.TotalHDD, p.UsedHDD, p.PercentHDD); err != nil {
		return model.VMStats{}, err
	}

	switch kind {
	case model.KindOpenVZ:
		if stats.Memory, err = parseOptionalUsage("memory", p.TotalMem, p.UsedMem, p.PercentMem); err != nil {
			return model.VMStats{}, err
		}
		if stats.VSwap, err = parseOptionalUsage("vswap", p.TotalVSwap, p.UsedVSwap, p.PercentVSwap); err != nil {
			return model.VMStats{}, err
		}
	case model.KindKVM:
		// the panel cannot see inside a full-virtualization guest
	default:
		return model.VMStats{}, fieldErr("vm_type", string(kind), errors.New("unknown virtualization kind"))
	}

	return stats, nil
}

func parseState(s scalar) model.PowerState {
	if s.null() {
		return model.StateUnknown
	}
	switch s.raw {
	case "1", "online", "running":
		return model.StateOnline
	case "0", "offline", "stopped":
		return model.StateOffline
	default:
		return model.StateUnknown
	}
}

func parseOptionalUsage(name string, total, used, percent scalar) (*model.Usage, error) {
	if total.null() {
		return nil, nil
	}
	u, err := parseUsage(name, total, used, percent)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func parseUsage(name string, total, used, percent scalar) (model.Usage, error) {
	t, err := parseBytes(name+"_total", total)
	if err != nil {
		return model.Usage{}, err
	}
	u, err := parseBytes(name+"_used", used)
	if err != nil {
		return model.Usage{}, err
	}

	p, err := units.Percent(u, t)
	if err != nil {
		return model.Usage{}, fieldErr(name+"_percent", fmt.Sprintf("%v/%v", u, t), err)
	}

	// The panel's own percentage is not trusted, but a garbage value there means the
	// payload is broken.
	if !percent.null() {
		if _, err := units.ParsePercent(percent.raw); err != nil {
			return model.Usage{}, fieldErr(name+"_percent", percent.raw, err)
		}
	}

	return model.Usage{TotalBytes: t, UsedBytes: u, Percent: p}, nil
}

// parseBytes reads a size. JSON numbers are byte counts, strings follow the panel's
// "<value> <unit>" notation.
func parseBytes(field string, s scalar) (float64, error) {
	if s.null() {
		return 0, fieldErr(field, "", ErrMissing)
	}
	if s.number {
		v, err := strconv.ParseFloat(s.raw, 64)
		if err != nil {
			return 0, fieldErr(field, s.raw, units.ErrInvalidNumber)
		}
		if err := units.CheckBytes(v); err != nil {
			return 0, fieldErr(field, s.raw, err)
		}
		return v, nil
	}
	v, err := units.ParseSize(s.raw)
	if err != nil {
		return 0, fieldErr(field, s.raw, err)
	}
	return v, nil
}
