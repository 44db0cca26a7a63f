package feeders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// JSONFeeder reads a JSON file. Unknown keys are rejected.
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

func (j JSONFeeder) Feed(structure any) error {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return fmt.Errorf("failed to read JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(structure); err != nil {
		return fmt.Errorf("failed to decode JSON %s: %w", j.Path, err)
	}
	return nil
}
