package feeders

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DotEnvFeeder reads LABMOD_ overrides from a .env file. Variables already
// set in the process environment take precedence over the file.
type DotEnvFeeder struct {
	Path   string
	Prefix string
}

// NewDotEnvFeeder creates a DotEnvFeeder that reads from the specified .env file
func NewDotEnvFeeder(filePath string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath, Prefix: DefaultEnvPrefix}
}

func (f DotEnvFeeder) Feed(structure any) error {
	vars, err := parseDotEnvFile(f.Path)
	if err != nil {
		return fmt.Errorf("failed to parse .env file: %w", err)
	}
	for k := range vars {
		if _, set := os.LookupEnv(k); set {
			delete(vars, k)
		}
	}
	prefix := f.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return applyEnv(structure, prefix, vars)
}

// parseDotEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped, an "export " prefix is allowed and matching quotes are removed.
func parseDotEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, wrapDotEnvLineError(lineNum, line)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return vars, nil
}
