// Package feeders loads the suite configuration file of a lab daemon and
// applies environment overrides to it.
//
// A suite configuration has two sections. The global section configures the
// remote service, status storage, autosave schedule and admin endpoint. The
// modules section maps module names to either a local class with its
// options, connector pins and exposure flag, or to a remote module served by
// another daemon.
//
// Example YAML configuration:
//
//	global:
//	  remote_server:
//	    listen: 0.0.0.0:12345
//	  status:
//	    engine: file
//	    directory: /var/lib/labd/status
//	  autosave: "@every 1m"
//	  admin:
//	    address: 127.0.0.1:8080
//	modules:
//	  counter:
//	    class: SimulatedCounter
//	    options:
//	      step: 2
//	  logic:
//	    class: CounterLogic
//	  temperature:
//	    remote:
//	      address: lab-2:12345
//	      name: temp_sensor
//	      capabilities: [Thermometer]
package feeders

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/remote"
	"github.com/GoCodeAlone/labmodular/statusstore"
)

// SuiteConfig is the complete configuration of one daemon.
type SuiteConfig struct {
	Global  GlobalConfig          `yaml:"global" toml:"global" json:"global"`
	Modules map[string]ModuleSpec `yaml:"modules" toml:"modules" json:"modules"`
}

// GlobalConfig holds daemon-wide settings.
type GlobalConfig struct {
	RemoteServer RemoteServerConfig `yaml:"remote_server" toml:"remote_server" json:"remoteServer"`
	Status       statusstore.Config `yaml:"status" toml:"status" json:"status"`

	// Autosave is a cron schedule for status checkpoints. "off" disables it.
	Autosave string `yaml:"autosave" toml:"autosave" json:"autosave" default:"@every 5m"`

	Admin AdminConfig `yaml:"admin" toml:"admin" json:"admin"`

	// Start lists the modules activated at startup, with their dependencies.
	// Empty activates every module.
	Start []string `yaml:"start" toml:"start" json:"start"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdownTimeout" default:"30s"`
	LogLevel        string        `yaml:"log_level" toml:"log_level" json:"logLevel" default:"info"`
	LogFormat       string        `yaml:"log_format" toml:"log_format" json:"logFormat" default:"text"`
}

// RemoteServerConfig configures the service exposing modules to peers. An
// empty Listen address disables it.
type RemoteServerConfig struct {
	Listen string           `yaml:"listen" toml:"listen" json:"listen"`
	TLS    remote.TLSConfig `yaml:"tls" toml:"tls" json:"tls"`
}

// AdminConfig configures the admin HTTP endpoint. An empty Address disables it.
type AdminConfig struct {
	Address string `yaml:"address" toml:"address" json:"address"`
}

// ModuleSpec configures one module.
type ModuleSpec struct {
	Class       string            `yaml:"class" toml:"class" json:"class"`
	Options     map[string]any    `yaml:"options" toml:"options" json:"options"`
	Connect     map[string]string `yaml:"connect" toml:"connect" json:"connect"`
	AllowRemote bool              `yaml:"allow_remote" toml:"allow_remote" json:"allowRemote"`

	Remote *RemoteModuleSpec `yaml:"remote" toml:"remote" json:"remote"`
}

// RemoteModuleSpec points a module at one exposed by another daemon.
type RemoteModuleSpec struct {
	Address string `yaml:"address" toml:"address" json:"address"`
	// Name is the exposed name on the peer; defaults to the module name.
	Name         string            `yaml:"name" toml:"name" json:"name"`
	TLS          *remote.TLSConfig `yaml:"tls" toml:"tls" json:"tls"`
	Capabilities []string          `yaml:"capabilities" toml:"capabilities" json:"capabilities"`
}

// IsRemote reports whether the module is served by another daemon.
func (s ModuleSpec) IsRemote() bool { return s.Remote != nil }

// ModuleConfig converts the spec into registration input. Remote specs map
// onto the options of remote proxy classes.
func (s ModuleSpec) ModuleConfig() labmodular.ModuleConfig {
	if s.Remote != nil {
		opts := map[string]any{remote.OptionAddress: s.Remote.Address}
		if s.Remote.Name != "" {
			opts[remote.OptionRemoteName] = s.Remote.Name
		}
		if s.Remote.TLS != nil {
			opts[remote.OptionTLS] = *s.Remote.TLS
		}
		return labmodular.ModuleConfig{Options: opts}
	}
	return labmodular.ModuleConfig{
		Options:     s.Options,
		Connect:     s.Connect,
		AllowRemote: s.AllowRemote,
	}
}

// ModuleNames returns the configured module names, sorted.
func (c *SuiteConfig) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AutosaveEnabled reports whether periodic checkpoints are configured.
func (c *SuiteConfig) AutosaveEnabled() bool {
	s := strings.TrimSpace(c.Global.Autosave)
	return s != "" && !strings.EqualFold(s, "off")
}

// normalize fills nil maps so later code can write into them.
func (c *SuiteConfig) normalize() {
	if c.Modules == nil {
		c.Modules = make(map[string]ModuleSpec)
	}
	for name, spec := range c.Modules {
		if spec.Options == nil {
			spec.Options = make(map[string]any)
		}
		if spec.Connect == nil {
			spec.Connect = make(map[string]string)
		}
		c.Modules[name] = spec
	}
}

// Validate checks the structural rules that do not need the class catalog.
func (c *SuiteConfig) Validate() error {
	for _, name := range c.ModuleNames() {
		spec := c.Modules[name]
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t/\\:") {
			return fmt.Errorf("%w: %q", ErrModuleNameInvalid, name)
		}
		switch {
		case spec.Class == "" && spec.Remote == nil:
			return fmt.Errorf("%w: %s", ErrModuleClassRequired, name)
		case spec.Class != "" && spec.Remote != nil:
			return fmt.Errorf("%w: %s", ErrModuleClassAndRemote, name)
		case spec.Remote != nil && strings.TrimSpace(spec.Remote.Address) == "":
			return fmt.Errorf("%w: %s", ErrRemoteAddressRequired, name)
		case spec.Remote != nil && spec.AllowRemote:
			return fmt.Errorf("%w: %s", ErrRemoteNotReexportable, name)
		}
		if spec.Remote != nil && spec.Remote.TLS != nil {
			if err := spec.Remote.TLS.ValidateClient(); err != nil {
				return fmt.Errorf("module %s: %w", name, err)
			}
		}
	}
	for _, name := range c.Global.Start {
		if _, ok := c.Modules[name]; !ok {
			return fmt.Errorf("%w: %s", ErrStartModuleUnknown, name)
		}
	}
	if c.AutosaveEnabled() {
		if _, err := cron.ParseStandard(c.Global.Autosave); err != nil {
			return fmt.Errorf("%w %q: %w", ErrAutosaveScheduleFormat, c.Global.Autosave, err)
		}
	}
	if c.Global.RemoteServer.Listen != "" {
		if err := c.Global.RemoteServer.TLS.ValidateServer(); err != nil {
			return fmt.Errorf("remote server: %w", err)
		}
	}
	return nil
}
