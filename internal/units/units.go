// Package units converts the control panel's size and percentage notations into bytes and
// 0..MaxPercent percentages, rejecting values that cannot be real.
package units

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Unit is a binary size unit as printed by the panel.
type Unit string

const (
	B  Unit = "B"
	KB Unit = "KB"
	MB Unit = "MB"
	GB Unit = "GB"
	TB Unit = "TB"
)

// DefaultUnit applies to size strings that carry no unit. The panel prints plan sizes in GB.
const DefaultUnit = GB

// MaxPercent is the largest usage percentage accepted. Bandwidth overage can push usage past
// 100, anything beyond this is treated as garbage.
const MaxPercent = 1000.0

// MaxBytes bounds any byte count (1 EiB).
const MaxBytes = float64(1 << 60)

var (
	ErrInvalidNumber = errors.New("invalid number")
	ErrNegative      = errors.New("negative value")
	ErrOutOfRange    = errors.New("value out of range")
	ErrUnknownUnit   = errors.New("unknown unit")
)

var multipliers = map[Unit]float64{
	B:  1,
	KB: 1 << 10,
	MB: 1 << 20,
	GB: 1 << 30,
	TB: 1 << 40,
}

var sizePattern = regexp.MustCompile(`^([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)\s*([A-Za-z]*)$`)

// ParseUnit normalizes unit spellings such as "gb", "GiB", "G" or "bytes".
func ParseUnit(s string) (Unit, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch u {
	case "":
		return DefaultUnit, nil
	case "B", "BYTE", "BYTES":
		return B, nil
	}
	u = strings.Replace(u, "IB", "B", 1)
	if !strings.HasSuffix(u, "B") {
		u += "B"
	}
	if _, ok := multipliers[Unit(u)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return Unit(u), nil
}

// ToBytes converts v expressed in u into bytes.
func ToBytes(v float64, u Unit) (float64, error) {
	m, ok := multipliers[u]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, u)
	}
	b := v * m
	if err := CheckBytes(b); err != nil {
		return 0, err
	}
	return b, nil
}

// FromBytes converts a byte count into u.
func FromBytes(b float64, u Unit) (float64, error) {
	m, ok := multipliers[u]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, u)
	}
	return b / m, nil
}

// ParseSize parses strings like "20.31 GB", "512MB" or "100 B" into bytes.
func ParseSize(s string) (float64, error) {
	s = strings.TrimSpace(s)
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	v, err := parseFloat(m[1])
	if err != nil {
		return 0, err
	}
	u, err := ParseUnit(m[2])
	if err != nil {
		return 0, err
	}
	return ToBytes(v, u)
}

// ParsePercent parses "12.5" or "12.5%".
func ParsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if err := CheckPercent(v); err != nil {
		return 0, err
	}
	return v, nil
}

// Percent returns used/total scaled to 0..100 (or above for overage, up to MaxPercent).
func Percent(used, total float64) (float64, error) {
	if err := CheckBytes(used); err != nil {
		return 0, err
	}
	if err := CheckBytes(total); err != nil {
		return 0, err
	}
	if total == 0 {
		if used == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: used %v of zero total", ErrOutOfRange, used)
	}
	p := used * 100 / total
	if err := CheckPercent(p); err != nil {
		return 0, err
	}
	return p, nil
}

// CheckBytes rejects NaN, infinities, negatives and absurdly large byte counts.
func CheckBytes(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%w: %v", ErrInvalidNumber, v)
	case v < 0:
		return fmt.Errorf("%w: %v", ErrNegative, v)
	case v > MaxBytes:
		return fmt.Errorf("%w: %v bytes", ErrOutOfRange, v)
	}
	return nil
}

// CheckPercent rejects NaN, infinities, negatives and values above MaxPercent.
func CheckPercent(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%w: %v", ErrInvalidNumber, v)
	case v < 0:
		return fmt.Errorf("%w: %v%%", ErrNegative, v)
	case v > MaxPercent:
		return fmt.Errorf("%w: %v%%", ErrOutOfRange, v)
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNegative, s)
	}
	return v, nil
}
