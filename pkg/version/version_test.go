package version

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintIncludesBuildInfo(t *testing.T) {
	Version, Commit = "v1.2.3", "abc123"
	t.Cleanup(func() { Version, Commit = "dev", "none" })

	out := Print()
	assert.Contains(t, out, Program)
	assert.Contains(t, out, "v1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(Collector()))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, Program+"_build_info", families[0].GetName())
}
