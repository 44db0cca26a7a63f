package feeders

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads a YAML file. Unknown keys are rejected.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

func (y YamlFeeder) Feed(structure any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(structure); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode YAML %s: %w", y.Path, err)
	}
	return nil
}
