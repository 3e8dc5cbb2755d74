package config

import (
	"strconv"
	"strings"
	"time"
)

// Flag values remember whether they were given on the command line, so a config file
// only fills what the flags left unset.

type strFlag struct {
	v   string
	set bool
}

func (f *strFlag) String() string     { return f.v }
func (f *strFlag) Set(s string) error { f.v, f.set = s, true; return nil }

type intFlag struct {
	v   int
	set bool
}

func (f *intFlag) String() string { return strconv.Itoa(f.v) }
func (f *intFlag) Set(s string) error {
	i, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	f.v, f.set = i, true
	return nil
}

type durFlag struct {
	v   time.Duration
	set bool
}

func (f *durFlag) String() string { return f.v.String() }
func (f *durFlag) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	f.v, f.set = d, true
	return nil
}

type durListFlag struct {
	v   []time.Duration
	set bool
}

func (f *durListFlag) String() string { return formatDurations(f.v) }
func (f *durListFlag) Set(s string) error {
	ds, err := parseDurations(s)
	if err != nil {
		return err
	}
	f.v, f.set = ds, true
	return nil
}

// parseDurations reads a comma separated list like "1s,3s,5s". An empty string or
// "none" is an empty list.
func parseDurations(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func formatDurations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
