package buildinfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrint_DefaultsAndSet(t *testing.T) {
	ov, od, oc := BuildVersion, BuildDate, BuildCommit
	t.Cleanup(func() { BuildVersion, BuildDate, BuildCommit = ov, od, oc })

	var buf bytes.Buffer
	BuildVersion, BuildDate, BuildCommit = "", "", ""
	Print(&buf)
	require.Equal(t, "Build version: N/A\nBuild date: N/A\nBuild commit: N/A\n", buf.String())
	require.Equal(t, "RackNerd-Prometheus-Exporter/1.0", UserAgent())

	buf.Reset()
	BuildVersion, BuildDate, BuildCommit = "v1.2.0", "2025-09-06", "deadbeef"
	Print(&buf)
	require.Contains(t, buf.String(), "Build version: v1.2.0\n")
	require.Contains(t, buf.String(), "Build commit: deadbeef\n")
	require.Equal(t, []any{"version", "v1.2.0", "build_date", "2025-09-06", "commit", "deadbeef"}, Fields())
	require.Equal(t, "RackNerd-Prometheus-Exporter/v1.2.0", UserAgent())
}
