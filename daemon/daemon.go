// Package daemon assembles a lab daemon from a suite configuration: the
// module registry and its status store, the remote service, the admin API,
// periodic status checkpoints and configuration hot reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/admin"
	"github.com/GoCodeAlone/labmodular/configwatch"
	"github.com/GoCodeAlone/labmodular/feeders"
	"github.com/GoCodeAlone/labmodular/remote"
	"github.com/GoCodeAlone/labmodular/statusstore"
)

// Daemon owns every long-running part of a lab process.
type Daemon struct {
	catalog    *labmodular.Catalog
	logger     labmodular.Logger
	configPath string
	feeders    []feeders.Feeder
	wrappers   map[string]func(*remote.Proxy) any
	debounce   time.Duration

	registry *labmodular.Registry
	store    statusstore.Store
	metrics  *prometheus.Registry
	service  *remote.Service

	mu      sync.Mutex
	cfg     *feeders.SuiteConfig
	started bool
	admin   *admin.Server
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger replaces the logger built from the global log settings.
func WithLogger(logger labmodular.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConfigPath enables hot reload of the configuration file at path.
// extra feeders are applied after the file on every reload.
func WithConfigPath(path string, extra ...feeders.Feeder) Option {
	return func(d *Daemon) {
		d.configPath = path
		d.feeders = extra
	}
}

// WithReloadDebounce sets the quiet interval of the configuration watcher.
func WithReloadDebounce(debounce time.Duration) Option {
	return func(d *Daemon) {
		d.debounce = debounce
	}
}

// WithProxyWrapper sets the typed client handed to connectors bound to remote
// modules that advertise capability.
func WithProxyWrapper(capability string, wrap func(*remote.Proxy) any) Option {
	return func(d *Daemon) {
		d.wrappers[capability] = wrap
	}
}

// New builds the registry and registers every configured module. Nothing is
// activated or started until Run.
func New(ctx context.Context, cfg *feeders.SuiteConfig, catalog *labmodular.Catalog, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if catalog == nil {
		return nil, ErrCatalogNil
	}
	d := &Daemon{
		catalog:  catalog,
		cfg:      cfg,
		wrappers: make(map[string]func(*remote.Proxy) any),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		logger, err := NewLogger(os.Stderr, cfg.Global.LogLevel, cfg.Global.LogFormat)
		if err != nil {
			return nil, err
		}
		d.logger = logger
	}

	store, err := statusstore.New(ctx, cfg.Global.Status, d.logger)
	if err != nil {
		return nil, err
	}
	d.store = store
	d.registry = labmodular.NewRegistry(
		labmodular.WithLogger(d.logger),
		labmodular.WithStatusStore(store),
	)
	d.service = remote.NewService(d.registry, remote.WithServiceLogger(d.logger))

	d.metrics = prometheus.NewRegistry()
	d.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		labmodular.NewRegistryCollector(d.registry, ""),
	)
	d.metrics.MustRegister(d.service.Collectors()...)

	var errs []error
	for _, name := range cfg.ModuleNames() {
		if err := d.register(name, cfg.Modules[name]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

// Registry returns the module registry.
func (d *Daemon) Registry() *labmodular.Registry { return d.registry }

// Metrics returns the Prometheus registry served on /metrics.
func (d *Daemon) Metrics() *prometheus.Registry { return d.metrics }

// Service returns the remote service. It listens only while Run is active
// and the configuration names a listen address.
func (d *Daemon) Service() *remote.Service { return d.service }

// Config returns the configuration currently applied.
func (d *Daemon) Config() *feeders.SuiteConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// AdminAddr returns the bound admin address, or "" when the admin API is
// not running.
func (d *Daemon) AdminAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.admin == nil {
		return ""
	}
	return d.admin.Addr().String()
}

// register instantiates one configured module.
func (d *Daemon) register(name string, spec feeders.ModuleSpec) error {
	class, err := d.classFor(name, spec)
	if err != nil {
		return fmt.Errorf("module %s: %w", name, err)
	}
	diags, err := d.registry.Register(name, class, spec.ModuleConfig())
	if err != nil {
		return err
	}
	for _, diag := range diags {
		d.logger.Debug("Registration diagnostic", "diagnostic", diag.String())
	}
	return nil
}

func (d *Daemon) classFor(name string, spec feeders.ModuleSpec) (*labmodular.Class, error) {
	if !spec.IsRemote() {
		return d.catalog.Lookup(spec.Class)
	}
	def := remote.ProxyClassDef{
		Name:         "Remote(" + name + ")",
		Capabilities: spec.Remote.Capabilities,
		DialOptions:  []remote.DialOption{remote.WithDialLogger(d.logger)},
	}
	for _, capability := range spec.Remote.Capabilities {
		if wrap, ok := d.wrappers[capability]; ok {
			def.Wrap = wrap
			break
		}
	}
	return remote.NewClass(def)
}

// Run starts the configured services, activates the start modules and
// blocks until ctx is cancelled. It then stops everything, deactivating
// modules dependents first, within the configured shutdown timeout. A
// daemon runs once.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	global := d.cfg.Global
	autosave := d.cfg.AutosaveEnabled()
	start := slices.Clone(global.Start)
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.registry.Resolve(); err != nil {
		d.logger.Warn("Some modules cannot be activated", "error", err)
	}

	if global.RemoteServer.Listen != "" {
		if err := d.service.Listen(runCtx, global.RemoteServer.Listen, &global.RemoteServer.TLS); err != nil {
			return d.stop(err, global.ShutdownTimeout, nil)
		}
	}

	if global.Admin.Address != "" {
		handler := admin.NewHandler(d.registry, admin.WithLogger(d.logger), admin.WithGatherer(d.metrics))
		srv, err := admin.Start(global.Admin.Address, handler, d.logger)
		if err != nil {
			return d.stop(err, global.ShutdownTimeout, nil)
		}
		d.mu.Lock()
		d.admin = srv
		d.mu.Unlock()
	}

	var scheduler *cron.Cron
	if autosave {
		scheduler = cron.New(cron.WithLogger(cronLogger{logger: d.logger}))
		if _, err := scheduler.AddFunc(global.Autosave, func() { d.checkpoint(runCtx) }); err != nil {
			return d.stop(fmt.Errorf("autosave schedule %q: %w", global.Autosave, err), global.ShutdownTimeout, nil)
		}
		scheduler.Start()
		d.logger.Info("Autosave scheduled", "schedule", global.Autosave)
	}

	var watchDone chan struct{}
	if d.configPath != "" {
		w, err := configwatch.New(d.configPath, d.reload,
			configwatch.WithLogger(d.logger), configwatch.WithDebounce(d.debounce))
		if err != nil {
			return d.stop(err, global.ShutdownTimeout, scheduler)
		}
		watchDone = make(chan struct{})
		go func() {
			defer close(watchDone)
			if err := w.Run(runCtx); err != nil {
				d.logger.Error("Configuration watcher stopped", "error", err)
			}
		}()
	}

	d.activateStart(runCtx, start)
	d.logger.Info("Daemon running", "modules", len(d.registry.Names()))

	<-ctx.Done()
	d.logger.Info("Daemon stopping")
	cancel()
	if watchDone != nil {
		<-watchDone
	}
	return d.stop(nil, global.ShutdownTimeout, scheduler)
}

func (d *Daemon) activateStart(ctx context.Context, start []string) {
	if len(start) == 0 {
		if err := d.registry.ActivateAll(ctx); err != nil {
			d.logger.Error("Not every module activated", "error", err)
		}
		return
	}
	for _, name := range start {
		if err := d.registry.Activate(ctx, name, labmodular.ActivateWithDependencies); err != nil {
			d.logger.Error("Start module not activated", "module", name, "error", err)
		}
	}
}

func (d *Daemon) checkpoint(ctx context.Context) {
	if err := d.registry.Checkpoint(ctx); err != nil {
		d.logger.Error("Autosave failed", "error", err)
		return
	}
	d.logger.Debug("Autosave complete")
}

// stop tears everything down and returns cause joined with any shutdown
// failure.
func (d *Daemon) stop(cause error, timeout time.Duration, scheduler *cron.Cron) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errs := []error{cause}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			d.logger.Warn("Autosave still running at shutdown")
		}
	}

	d.mu.Lock()
	srv := d.admin
	d.admin = nil
	d.mu.Unlock()
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	errs = append(errs, d.service.Shutdown(ctx))
	errs = append(errs, d.registry.Shutdown(ctx))
	errs = append(errs, d.store.Close())
	d.logger.Info("Daemon stopped")
	return errors.Join(errs...)
}
