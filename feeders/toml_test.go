package feeders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTomlFeeder_Feed(t *testing.T) {
	path := writeFile(t, "suite.toml", `
[global]
autosave = "off"

[global.admin]
address = "127.0.0.1:9000"

[modules.counter]
class = "SimulatedCounter"

[modules.counter.options]
rate = 15

[modules.sensor.remote]
address = "lab-3:12345"
capabilities = ["Thermometer"]

[modules.sensor.remote.tls]
enabled = true
ca_file = "/etc/labd/ca.pem"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Global.Admin.Address)
	assert.False(t, cfg.AutosaveEnabled())
	assert.EqualValues(t, 15, cfg.Modules["counter"].Options["rate"])

	sensor := cfg.Modules["sensor"]
	require.True(t, sensor.IsRemote())
	require.NotNil(t, sensor.Remote.TLS)
	assert.True(t, sensor.Remote.TLS.Enabled)
	assert.Equal(t, "/etc/labd/ca.pem", sensor.Remote.TLS.CAFile)
}

func TestTomlFeeder_UnknownKey(t *testing.T) {
	path := writeFile(t, "suite.toml", "[global]\nautosaev = \"off\"\n")
	var cfg SuiteConfig
	err := NewTomlFeeder(path).Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global.autosaev")
}
