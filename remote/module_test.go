package remote_test

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// thermometerClient implements Thermometer over a proxy.
type thermometerClient struct{ p *remote.Proxy }

func (c thermometerClient) Temperature(ctx context.Context) (float64, error) {
	var v float64
	err := c.p.Call(ctx, "Temperature", nil, &v)
	return v, err
}

func (c thermometerClient) SetOffset(offset float64) error {
	return c.p.Call(context.Background(), "SetOffset", []any{offset})
}

func (c thermometerClient) Label() string {
	var s string
	_ = c.p.Call(context.Background(), "Label", nil, &s)
	return s
}

func (c thermometerClient) Fail() error { return c.p.Call(context.Background(), "Fail", nil) }
func (c thermometerClient) Explode()    { _ = c.p.Call(context.Background(), "Explode", nil) }

func remoteThermometerClass(t *testing.T) *labmodular.Class {
	t.Helper()
	class, err := remote.NewClass(remote.ProxyClassDef{
		Name:         "RemoteThermometer",
		Capabilities: []string{"Thermometer"},
		Wrap:         func(p *remote.Proxy) any { return thermometerClient{p: p} },
	})
	require.NoError(t, err)
	return class
}

func TestProxyModuleSatisfiesConnector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen float64
	display := labmodular.MustResolveClass(labmodular.ClassDef{
		Name: "Display",
		Fields: []labmodular.Field{
			{Attr: "sensor", Descriptor: labmodular.Connector{Capability: "Thermometer"}},
		},
		Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
			return labmodular.ModuleFunc{Activate: func(ctx context.Context) error {
				sensor, err := labmodular.ConnectorAs[Thermometer](inst, "sensor")
				if err != nil {
					return err
				}
				seen, err = sensor.Temperature(ctx)
				return err
			}}, nil
		},
	})

	client := labmodular.NewRegistry()
	_, err := client.Register("remote_temp", remoteThermometerClass(t), labmodular.ModuleConfig{
		Options: map[string]any{
			remote.OptionAddress:    f.addr,
			remote.OptionRemoteName: "temp_sensor",
			remote.OptionTLS:        *f.client,
		},
	})
	require.NoError(t, err)
	_, err = client.Register("display", display, labmodular.ModuleConfig{})
	require.NoError(t, err)

	require.NoError(t, client.Resolve())
	require.NoError(t, client.Activate(ctx, "display", labmodular.ActivateWithDependencies))
	assert.InDelta(t, 21.5, seen, 1e-9)
	assert.Equal(t, labmodular.StateActivated, client.State("remote_temp"))

	inst, err := client.Instance("remote_temp")
	require.NoError(t, err)
	proxy := inst.Module().(*remote.ProxyModule).Proxy()
	require.NotNil(t, proxy)

	require.NoError(t, client.Shutdown(ctx))
	assert.ErrorIs(t, proxy.Call(ctx, "Label", nil), remote.ErrConnectionClosed)
}

func TestProxyModuleTLSOptionFromMap(t *testing.T) {
	f := newFixture(t)
	client := labmodular.NewRegistry()
	_, err := client.Register("temp_sensor", remoteThermometerClass(t), labmodular.ModuleConfig{
		Options: map[string]any{
			remote.OptionAddress: f.addr,
			remote.OptionTLS: map[string]any{
				"enabled":   true,
				"mutual":    true,
				"cert_file": f.client.CertFile,
				"key_file":  f.client.KeyFile,
				"ca_file":   f.client.CAFile,
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, client.Activate(context.Background(), "temp_sensor", labmodular.ActivateSingle))

	inst, err := client.Instance("temp_sensor")
	require.NoError(t, err)
	sensor, err := labmodular.ConnectorAs[Thermometer](inst, "missing")
	assert.ErrorIs(t, err, labmodular.ErrUnknownConnector)
	assert.Nil(t, sensor)

	delegate, ok := inst.Module().(labmodular.Delegator).Delegate().(Thermometer)
	require.True(t, ok)
	assert.Equal(t, "bench", delegate.Label())
}

func TestProxyModuleUnreachableBreaks(t *testing.T) {
	client := labmodular.NewRegistry()
	_, err := client.Register("temp_sensor", remoteThermometerClass(t), labmodular.ModuleConfig{
		Options: map[string]any{remote.OptionAddress: "127.0.0.1:1"},
	})
	require.NoError(t, err)

	err = client.Activate(context.Background(), "temp_sensor", labmodular.ActivateSingle)
	assert.ErrorIs(t, err, remote.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, labmodular.ErrHookFailed)
	assert.Equal(t, labmodular.StateBroken, client.State("temp_sensor"))
}

func TestProxyModuleRequiresAddress(t *testing.T) {
	_, err := labmodular.NewRegistry().Register("temp_sensor", remoteThermometerClass(t), labmodular.ModuleConfig{})
	assert.ErrorIs(t, err, labmodular.ErrMissingRequiredOption)
}
