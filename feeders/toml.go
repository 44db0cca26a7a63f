package feeders

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads a TOML file. Unknown keys are rejected.
type TomlFeeder struct {
	Path string
}

func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

func (t TomlFeeder) Feed(structure any) error {
	md, err := toml.DecodeFile(t.Path, structure)
	if err != nil {
		return fmt.Errorf("failed to decode TOML %s: %w", t.Path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("failed to decode TOML %s: unknown keys %s", t.Path, strings.Join(keys, ", "))
	}
	return nil
}
