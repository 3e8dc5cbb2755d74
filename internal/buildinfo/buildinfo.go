// Package buildinfo carries the version stamped in at link time:
//
//	go build -ldflags "-X github.com/and161185/racknerd-exporter/internal/buildinfo.BuildVersion=v1.0.0" ./cmd/exporter
package buildinfo

import (
	"fmt"
	"io"
)

var (
	BuildVersion string
	BuildDate    string
	BuildCommit  string
)

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Print writes the build information, one field per line.
func Print(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", orNA(BuildVersion))
	fmt.Fprintf(w, "Build date: %s\n", orNA(BuildDate))
	fmt.Fprintf(w, "Build commit: %s\n", orNA(BuildCommit))
}

// Fields returns the build information as structured log fields.
func Fields() []any {
	return []any{"version", orNA(BuildVersion), "build_date", orNA(BuildDate), "commit", orNA(BuildCommit)}
}

// UserAgent returns the User-Agent sent to the panel.
func UserAgent() string {
	v := BuildVersion
	if v == "" {
		v = "1.0"
	}
	return "RackNerd-Prometheus-Exporter/" + v
}
