// Package statusstore provides persistent labmodular.StatusStore engines.
//
// The memory engine keeps representations for the life of the process, the
// file engine writes one YAML or TOML document per module, and the redis
// engine keeps one hash per module. Values are stored as produced by the
// status variable representers, so they must be plain data: numbers,
// strings, booleans, lists and string-keyed maps.
package statusstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/labmodular"
)

// Config selects and configures a status store engine.
//
// Example YAML configuration:
//
//	engine: file
//	directory: /var/lib/labd/status
//	format: yaml
type Config struct {
	// Engine is one of "memory", "file" or "redis". Default: "memory".
	Engine string `json:"engine" yaml:"engine" toml:"engine" default:"memory"`

	// Directory holds one status file per module. File engine only.
	Directory string `json:"directory" yaml:"directory" toml:"directory"`

	// Format is "yaml" or "toml". File engine only. Default: "yaml".
	Format string `json:"format" yaml:"format" toml:"format" default:"yaml"`

	// RedisURL has the form redis://[user:pass@]host:port[/db].
	RedisURL string `json:"redisURL" yaml:"redis_url" toml:"redis_url"`

	// RedisPassword overrides the password in RedisURL.
	RedisPassword string `json:"redisPassword" yaml:"redis_password" toml:"redis_password"`

	// RedisDB overrides the database in RedisURL when non-zero.
	RedisDB int `json:"redisDB" yaml:"redis_db" toml:"redis_db"`

	// KeyPrefix namespaces redis keys. Default: "labmodular:status:".
	KeyPrefix string `json:"keyPrefix" yaml:"key_prefix" toml:"key_prefix"`
}

// Store is a StatusStore that may hold external resources.
type Store interface {
	labmodular.StatusStore
	Connect(ctx context.Context) error
	Close() error
}

// New builds the engine named by cfg and connects it.
func New(ctx context.Context, cfg Config, logger labmodular.Logger) (Store, error) {
	if logger == nil {
		logger = labmodular.NopLogger{}
	}
	var store Store
	switch strings.ToLower(cfg.Engine) {
	case "", "memory":
		store = memoryStore{labmodular.NewMemoryStatusStore()}
		logger.Info("Initialized memory status store")
	case "file":
		fs, err := NewFileStore(cfg.Directory, cfg.Format)
		if err != nil {
			return nil, err
		}
		store = fs
		logger.Info("Initialized file status store", "directory", cfg.Directory, "format", fs.format)
	case "redis":
		rs, err := NewRedisStore(cfg)
		if err != nil {
			return nil, err
		}
		store = rs
		logger.Info("Initialized redis status store", "url", redactURL(cfg.RedisURL), "prefix", rs.prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
	if err := store.Connect(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// memoryStore adds the Store lifecycle to the in-memory registry default.
type memoryStore struct {
	*labmodular.MemoryStatusStore
}

func (memoryStore) Connect(context.Context) error { return nil }
func (memoryStore) Close() error                  { return nil }

// validModuleName rejects names that would escape the status directory or
// collide with the key separator.
func validModuleName(module string) error {
	if module == "" || module == "." || module == ".." || strings.ContainsAny(module, `/\:`) {
		return fmt.Errorf("%w: %q", ErrInvalidModuleName, module)
	}
	return nil
}
