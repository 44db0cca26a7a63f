package statusstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const defaultKeyPrefix = "labmodular:status:"

// RedisStore keeps the status of each module in one redis hash. Field values
// are YAML documents so that lists and maps survive the round trip.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store from cfg. The client is created lazily by
// redis and verified by Connect.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	rawURL := cfg.RedisURL
	if rawURL == "" {
		rawURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: redis.NewClient(opts), prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Connect verifies the server is reachable.
func (s *RedisStore) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Key returns the hash key of module.
func (s *RedisStore) Key(module string) string {
	return s.prefix + module
}

func (s *RedisStore) LoadStatus(ctx context.Context, module string) (map[string]any, error) {
	if err := validModuleName(module); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.Key(module)).Result()
	if err != nil {
		return nil, fmt.Errorf("read status of %q: %w", module, err)
	}
	values := make(map[string]any, len(fields))
	for name, raw := range fields {
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode status %s.%s: %w", module, name, err)
		}
		values[name] = v
	}
	return values, nil
}

// SaveStatus replaces the module's hash in one transaction.
func (s *RedisStore) SaveStatus(ctx context.Context, module string, values map[string]any) error {
	if err := validModuleName(module); err != nil {
		return err
	}
	fields := make(map[string]any, len(values))
	for name, v := range values {
		raw, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode status %s.%s: %w", module, name, err)
		}
		fields[name] = string(raw)
	}

	key := s.Key(module)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	return nil
}

// redactURL hides the password of a redis URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
