package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
agents:
  - name: risk_manager
    endpoint: http://localhost:8013/
    interval_seconds: 120
    priority: 0
    resource_intensive: true
    max_runtime_seconds: 120
    max_retries: 3
    notify_channel: "#risk-manager"
  - name: market_analyst
    endpoint: http://localhost:8011
    interval_seconds: 300
    priority: 1
    resource_intensive: true
    max_runtime_seconds: 180
    max_retries: 3
    notify_channel: "#market-analyst"
`

func TestRegistryLoadsAgentsInFileOrder(t *testing.T) {
	reg, err := NewRegistry(writeRegistry(t, validYAML), false)
	require.NoError(t, err)

	agents := reg.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "risk_manager", agents[0].Name)
	assert.Equal(t, "market_analyst", agents[1].Name)

	// trailing slash is normalized away
	assert.Equal(t, "http://localhost:8013", agents[0].Endpoint)
	assert.Equal(t, 120*time.Second, agents[0].Interval())
	assert.Equal(t, 120*time.Second, agents[0].MaxRuntime())
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(writeRegistry(t, validYAML), false)
	require.NoError(t, err)

	d, ok := reg.Lookup("market_analyst")
	require.True(t, ok)
	assert.Equal(t, 1, d.Priority)
	assert.True(t, d.ResourceIntensive)

	_, ok = reg.Lookup("ghost")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, `
agents:
  - name: risk_manager
    endpoint: http://localhost:8013
    interval_seconds: 120
    max_runtime_seconds: 120
    max_retries: 3
  - name: risk_manager
    endpoint: http://localhost:8014
    interval_seconds: 120
    max_runtime_seconds: 120
    max_retries: 3
`), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistryRejectsInvalidFields(t *testing.T) {
	cases := map[string]string{
		"missing name": `
agents:
  - endpoint: http://localhost:8013
    interval_seconds: 120
    max_runtime_seconds: 120
    max_retries: 3
`,
		"missing endpoint": `
agents:
  - name: risk_manager
    interval_seconds: 120
    max_runtime_seconds: 120
    max_retries: 3
`,
		"zero interval": `
agents:
  - name: risk_manager
    endpoint: http://localhost:8013
    interval_seconds: 0
    max_runtime_seconds: 120
    max_retries: 3
`,
		"zero retries": `
agents:
  - name: risk_manager
    endpoint: http://localhost:8013
    interval_seconds: 120
    max_runtime_seconds: 120
    max_retries: 0
`,
		"empty file": `
agents: []
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(writeRegistry(t, body), false)
			assert.Error(t, err)
		})
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	reg, err := NewRegistry(writeRegistry(t, validYAML), false)
	require.NoError(t, err)

	snap := reg.Snapshot()
	snap.Agents[0].Name = "mutated"
	assert.Equal(t, "risk_manager", reg.Agents()[0].Name)
	assert.Equal(t, int64(1), snap.Version)
	assert.False(t, snap.LoadedAt.IsZero())
}

func TestRegistryDumpYAML(t *testing.T) {
	reg, err := NewRegistry(writeRegistry(t, validYAML), false)
	require.NoError(t, err)

	dump := reg.DumpYAML()
	assert.Contains(t, dump, "risk_manager")
	assert.Contains(t, dump, "interval_seconds: 120")
}
