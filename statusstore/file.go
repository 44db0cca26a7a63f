package statusstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileStore keeps one document per module in a directory. Writes go to a
// temporary file that is renamed over the old one, so a crash never leaves a
// half-written document behind.
type FileStore struct {
	dir    string
	format string

	mu sync.Mutex
}

// NewFileStore creates a store rooted at dir. format is "yaml" (default) or
// "toml".
func NewFileStore(dir, format string) (*FileStore, error) {
	if dir == "" {
		return nil, ErrDirectoryRequired
	}
	format = strings.ToLower(format)
	switch format {
	case "":
		format = "yaml"
	case "yaml", "yml":
		format = "yaml"
	case "toml":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &FileStore{dir: dir, format: format}, nil
}

// Connect creates the status directory.
func (s *FileStore) Connect(context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// Path returns the document path of module.
func (s *FileStore) Path(module string) string {
	return filepath.Join(s.dir, module+"."+s.format)
}

func (s *FileStore) LoadStatus(_ context.Context, module string) (map[string]any, error) {
	if err := validModuleName(module); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(module))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status of %q: %w", module, err)
	}

	values := make(map[string]any)
	switch s.format {
	case "toml":
		err = toml.Unmarshal(data, &values)
	default:
		err = yaml.Unmarshal(data, &values)
	}
	if err != nil {
		return nil, fmt.Errorf("decode status of %q: %w", module, err)
	}
	return values, nil
}

func (s *FileStore) SaveStatus(_ context.Context, module string, values map[string]any) error {
	if err := validModuleName(module); err != nil {
		return err
	}

	var buf bytes.Buffer
	switch s.format {
	case "toml":
		// TOML has no null; an absent key restores the default anyway.
		clean := make(map[string]any, len(values))
		for k, v := range values {
			if v != nil {
				clean[k] = v
			}
		}
		if err := toml.NewEncoder(&buf).Encode(clean); err != nil {
			return fmt.Errorf("encode status of %q: %w", module, err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(values); err != nil {
			return fmt.Errorf("encode status of %q: %w", module, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode status of %q: %w", module, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+module+".*.tmp")
	if err != nil {
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(module)); err != nil {
		return fmt.Errorf("write status of %q: %w", module, err)
	}
	return nil
}
