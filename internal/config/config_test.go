package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second/60, c.Simulation.Timestep)
	assert.Equal(t, 8*time.Millisecond, c.Simulation.Budget)
	assert.Equal(t, RoleOffline, c.Network.Role)
	assert.Equal(t, time.Second/60, c.FrameInterval())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(`
simulation:
  timestep: 20ms
  frame_rate: 30
network:
  role: host
  transport: quic
  address: 0.0.0.0:9000
  claim_policy: sequenced
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, c.Simulation.Timestep)
	assert.Equal(t, 8*time.Millisecond, c.Simulation.Budget, "unset fields keep defaults")
	assert.Equal(t, 30, c.Simulation.FrameRate)
	assert.Equal(t, RoleHost, c.Network.Role)
	assert.Equal(t, TransportQUIC, c.Network.Transport)
	assert.Equal(t, "sequenced", c.Network.ClaimPolicy)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/simcore", c.Network.Path)
}

func TestLoadYAMLEmptyDocument(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("simulation:\n  tickrate: 5\n"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := Default()
	c.Simulation.Timestep = 0
	c.Network.Role = "observer"
	c.Network.Transport = "carrier-pigeon"
	c.Network.ClaimPolicy = "loudest"
	c.Profile.Mode = "trace"

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"timestep", "network.role", "network.transport", "claim_policy", "profile.mode"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state:\n  namespace: test\n  file: state.yaml\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.State.Namespace)
	assert.Equal(t, "state.yaml", c.State.File)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
