// Package model contains core data types for the project.
package model

import "time"

// Credentials identify the control panel account. They never change after startup.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// Kind is the virtualization kind of a VM.
type Kind string

const (
	KindKVM    Kind = "kvm"    // KindKVM is a full-virtualization VM.
	KindOpenVZ Kind = "openvz" // KindOpenVZ is a container-based VM.
)

// HasMemoryStats reports whether the panel can report memory and vswap for this kind.
func (k Kind) HasMemoryStats() bool { return k == KindOpenVZ }

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindKVM, KindOpenVZ:
		return true
	default:
		return false
	}
}

// PowerState is the power state reported for a VM.
type PowerState int

const (
	StateUnknown PowerState = iota
	StateOnline
	StateOffline
)

func (s PowerState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// VMIdentity holds the facts read from the VM list.
type VMIdentity struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
	OS        string `json:"os"`
	Kind      Kind   `json:"vm_type"`
}

// Usage is a total/used pair in bytes with its usage percentage (0..MaxPercent).
type Usage struct {
	TotalBytes float64 `json:"total_bytes"`
	UsedBytes  float64 `json:"used_bytes"`
	Percent    float64 `json:"usage_percent"`
}

// VMStats are the values measured for one VM in one cycle.
// A nil Memory or VSwap means the panel does not report that figure for the VM.
type VMStats struct {
	State     PowerState `json:"state"`
	Bandwidth Usage      `json:"bandwidth"`
	Disk      Usage      `json:"disk"`
	Memory    *Usage     `json:"memory,omitempty"`
	VSwap     *Usage     `json:"vswap,omitempty"`
}

// Outcome is the per-VM result of a collection cycle: either Stats or a Reason.
type Outcome struct {
	Stats  *VMStats `json:"stats,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// OK returns a successful outcome.
func OK(stats VMStats) Outcome { return Outcome{Stats: &stats} }

// Unavailable returns a failed outcome.
func Unavailable(reason string) Outcome {
	if reason == "" {
		reason = "unknown"
	}
	return Outcome{Reason: reason}
}

// Available reports whether stats were retrieved.
func (o Outcome) Available() bool { return o.Stats != nil }

// Entry pairs a VM with its outcome.
type Entry struct {
	VM      VMIdentity `json:"vm"`
	Outcome Outcome    `json:"outcome"`
}

// Snapshot is the immutable result of one collection cycle.
type Snapshot struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Entries   []Entry       `json:"entries"`
	Success   bool          `json:"success"`
	Err       string        `json:"error,omitempty"`
}

// IsZero reports whether no cycle has produced this snapshot yet.
func (s Snapshot) IsZero() bool { return s.StartedAt.IsZero() && len(s.Entries) == 0 }

// Unavailable returns a copy of s with every entry marked unavailable.
func (s Snapshot) Unavailable(reason string) Snapshot {
	out := s
	out.Entries = make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = Entry{VM: e.VM, Outcome: Unavailable(reason)}
	}
	return out
}
