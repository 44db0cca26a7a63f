package remote_test

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/internal/testutil/tlstest"
	"github.com/GoCodeAlone/labmodular/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Thermometer interface {
	Temperature(ctx context.Context) (float64, error)
	SetOffset(offset float64) error
	Label() string
	Fail() error
	Explode()
}

type thermometer struct {
	labmodular.ModuleFunc
	mu     sync.Mutex
	offset float64
	label  string
}

func (t *thermometer) Temperature(context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return 21.5 + t.offset, nil
}

func (t *thermometer) SetOffset(offset float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = offset
	return nil
}

func (t *thermometer) Label() string  { return t.label }
func (t *thermometer) Fail() error    { return errors.New("sensor unplugged") }
func (t *thermometer) Explode()       { panic("boom") }
func (t *thermometer) Secret() string { return "local only" }

var thermometerClass = labmodular.MustResolveClass(labmodular.ClassDef{
	Name:            "Thermometer",
	RemoteInterface: reflect.TypeFor[Thermometer](),
	Fields: []labmodular.Field{
		{Attr: "label", Descriptor: labmodular.ConfigOption{Default: "bench"}},
	},
	Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
		label, err := labmodular.OptionAs[string](inst, "label")
		if err != nil {
			return nil, err
		}
		return &thermometer{label: label}, nil
	},
})

type fixture struct {
	registry *labmodular.Registry
	service  *remote.Service
	addr     string
	server   *remote.TLSConfig
	client   *remote.TLSConfig
}

// newFixture runs a service with mutual TLS exposing one active thermometer
// as "temp_sensor".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	ca := tlstest.NewCA(t, "lab-ca")
	serverPair := ca.Server(t, "lab-server")
	clientPair := ca.Client(t, "lab-client")

	reg := labmodular.NewRegistry()
	_, err := reg.Register("thermo", thermometerClass, labmodular.ModuleConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.Activate(ctx, "thermo", labmodular.ActivateSingle))
	require.NoError(t, reg.Expose("temp_sensor", "thermo", nil))

	f := &fixture{
		registry: reg,
		server: &remote.TLSConfig{
			Enabled: true, Mutual: true,
			CertFile: serverPair.CertFile, KeyFile: serverPair.KeyFile, CAFile: ca.CAFile(),
		},
		client: &remote.TLSConfig{
			Enabled: true, Mutual: true,
			CertFile: clientPair.CertFile, KeyFile: clientPair.KeyFile, CAFile: ca.CAFile(),
		},
	}
	f.service = remote.NewService(reg)
	require.NoError(t, f.service.Listen(ctx, "127.0.0.1:0", f.server))
	t.Cleanup(func() { _ = f.service.Close() })
	f.addr = f.service.Addr().String()
	return f
}

func (f *fixture) dial(t *testing.T) *remote.Conn {
	t.Helper()
	conn, err := remote.Dial(context.Background(), f.addr, f.client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetModuleExposedAndUnknown(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	ctx := context.Background()

	proxy, err := conn.GetModule(ctx, "temp_sensor")
	require.NoError(t, err)
	assert.Equal(t, "temp_sensor", proxy.Name())
	assert.Contains(t, proxy.Capabilities(), "Thermometer")

	var names []string
	for _, m := range proxy.Methods() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Explode", "Fail", "Label", "SetOffset", "Temperature"}, names)

	var temp float64
	require.NoError(t, proxy.Call(ctx, "Temperature", nil, &temp))
	assert.InDelta(t, 21.5, temp, 1e-9)

	_, err = conn.GetModule(ctx, "motor")
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrModuleNotFound)
	var callErr *remote.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, remote.CodeNotFound, callErr.Code)

	// Registered but not exposed is indistinguishable from absent.
	_, err = conn.GetModule(ctx, "thermo")
	assert.ErrorIs(t, err, remote.ErrModuleNotFound)
}

func TestProxyCallsRunOnExposingSide(t *testing.T) {
	f := newFixture(t)
	proxy, err := f.dial(t).GetModule(context.Background(), "temp_sensor")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, proxy.Call(ctx, "SetOffset", []any{1.5}))
	var temp float64
	require.NoError(t, proxy.Call(ctx, "Temperature", nil, &temp))
	assert.InDelta(t, 23.0, temp, 1e-9)

	inst, err := f.registry.Instance("thermo")
	require.NoError(t, err)
	local, _ := inst.Module().(*thermometer)
	got, _ := local.Temperature(ctx)
	assert.InDelta(t, 23.0, got, 1e-9)

	var label string
	require.NoError(t, proxy.Call(ctx, "Label", nil, &label))
	assert.Equal(t, "bench", label)
}

func TestProxyCallErrors(t *testing.T) {
	f := newFixture(t)
	proxy, err := f.dial(t).GetModule(context.Background(), "temp_sensor")
	require.NoError(t, err)
	ctx := context.Background()

	err = proxy.Call(ctx, "Fail", nil)
	assert.ErrorIs(t, err, remote.ErrCallFailed)
	assert.Contains(t, err.Error(), "sensor unplugged")

	err = proxy.Call(ctx, "Explode", nil)
	assert.ErrorIs(t, err, remote.ErrCallFailed)
	assert.Contains(t, err.Error(), "panicked")

	assert.ErrorIs(t, proxy.Call(ctx, "Secret", nil), remote.ErrMethodNotFound)
	assert.ErrorIs(t, proxy.Call(ctx, "SetOffset", nil), remote.ErrArgumentCount)

	err = proxy.Call(ctx, "SetOffset", []any{"warm"})
	assert.ErrorIs(t, err, remote.ErrBadRequest)

	// The service keeps serving after failures.
	var temp float64
	require.NoError(t, proxy.Call(ctx, "Temperature", nil, &temp))
}

func TestCallOnInactiveOrUnexposedModule(t *testing.T) {
	f := newFixture(t)
	proxy, err := f.dial(t).GetModule(context.Background(), "temp_sensor")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.registry.Deactivate(ctx, "thermo"))
	assert.ErrorIs(t, proxy.Call(ctx, "Label", nil), remote.ErrModuleNotActive)

	require.NoError(t, f.registry.Unexpose("temp_sensor"))
	assert.ErrorIs(t, proxy.Call(ctx, "Label", nil), remote.ErrModuleNotFound)
}

func TestCloseInvalidatesProxies(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	ctx := context.Background()

	first, err := conn.GetModule(ctx, "temp_sensor")
	require.NoError(t, err)
	second, err := conn.GetModule(ctx, "temp_sensor")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	done := make(chan error, 2)
	go func() { done <- first.Call(ctx, "Label", nil) }()
	go func() { done <- second.Call(ctx, "Label", nil) }()
	for range 2 {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, remote.ErrConnectionClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("call on closed connection hung")
		}
	}
	_, err = conn.GetModule(ctx, "temp_sensor")
	assert.ErrorIs(t, err, remote.ErrConnectionClosed)
}

func TestServiceShutdownSurfacesRemoteUnavailable(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	proxy, err := conn.GetModule(context.Background(), "temp_sensor")
	require.NoError(t, err)

	require.NoError(t, f.service.Close())

	assert.Eventually(t, func() bool {
		err := proxy.Call(context.Background(), "Label", nil)
		return errors.Is(err, remote.ErrRemoteUnavailable)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = remote.Dial(context.Background(), addr, nil, remote.WithDialTimeout(time.Second))
	assert.ErrorIs(t, err, remote.ErrRemoteUnavailable)
}

func TestMutualTLSRejectsClientWithoutCertificate(t *testing.T) {
	f := newFixture(t)
	anonymous := &remote.TLSConfig{Enabled: true, CAFile: f.client.CAFile}

	conn, err := remote.Dial(context.Background(), f.addr, anonymous, remote.WithDialTimeout(2*time.Second))
	if err != nil {
		assert.ErrorIs(t, err, remote.ErrRemoteUnavailable)
		return
	}
	defer conn.Close()
	// Under TLS 1.3 the server's rejection arrives after the client handshake.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = conn.GetModule(ctx, "temp_sensor")
	assert.ErrorIs(t, err, remote.ErrRemoteUnavailable)
}

func TestCallHonoursContext(t *testing.T) {
	f := newFixture(t)
	proxy, err := f.dial(t).GetModule(context.Background(), "temp_sensor")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = proxy.Call(ctx, "Label", nil)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestServiceEmitsConnectionEvents(t *testing.T) {
	reg := labmodular.NewRegistry()
	events := make(chan string, 8)
	svc := remote.NewService(reg, remote.WithServiceObserver(labmodular.NewFunctionalObserver("t",
		func(_ context.Context, e labmodular.CloudEvent) error {
			events <- e.Type()
			return nil
		})))
	require.NoError(t, svc.Listen(context.Background(), "127.0.0.1:0", nil))
	t.Cleanup(func() { _ = svc.Close() })

	conn, err := remote.Dial(context.Background(), svc.Addr().String(), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, conn.Close())

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen[labmodular.EventTypeRemoteConnectionClosed] {
		select {
		case typ := <-events:
			seen[typ] = true
		case <-deadline:
			t.Fatalf("events seen: %v", seen)
		}
	}
	assert.True(t, seen[labmodular.EventTypeRemoteConnectionAccepted])
}

type Latch interface {
	Wait() error
}

type latch struct {
	labmodular.ModuleFunc
	entered chan struct{}
	release chan struct{}
}

func (l *latch) Wait() error {
	close(l.entered)
	<-l.release
	return nil
}

func TestServiceShutdownAbandonsStuckCalls(t *testing.T) {
	ctx := context.Background()
	stuck := &latch{entered: make(chan struct{}), release: make(chan struct{})}
	class := labmodular.MustResolveClass(labmodular.ClassDef{
		Name:            "Latch",
		RemoteInterface: reflect.TypeFor[Latch](),
		Factory:         func(*labmodular.Instance) (labmodular.Module, error) { return stuck, nil },
	})
	reg := labmodular.NewRegistry()
	_, err := reg.Register("latch", class, labmodular.ModuleConfig{AllowRemote: true})
	require.NoError(t, err)
	require.NoError(t, reg.Activate(ctx, "latch", labmodular.ActivateSingle))

	svc := remote.NewService(reg)
	require.NoError(t, svc.Listen(ctx, "127.0.0.1:0", nil))
	conn, err := remote.Dial(ctx, svc.Addr().String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	proxy, err := conn.GetModule(ctx, "latch")
	require.NoError(t, err)

	go func() { _ = proxy.Call(ctx, "Wait", nil) }()
	select {
	case <-stuck.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the module")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	returned := make(chan error, 1)
	go func() { returned <- svc.Shutdown(shutdownCtx) }()
	select {
	case err := <-returned:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown ignored its context")
	}

	close(stuck.release)
	assert.NoError(t, svc.Shutdown(ctx))
}
