package feeders

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/GoCodeAlone/labmodular/remote"
)

// DefaultEnvPrefix starts every module override variable.
const DefaultEnvPrefix = "LABMOD_"

// EnvFeeder applies LABMOD_<MODULE>_<OPTION>=value overrides to the modules
// already present in a SuiteConfig. Module names are matched upper-cased with
// every non-alphanumeric character replaced by "_", preferring the longest
// match; the option name is the lower-cased remainder. Values stay strings
// and are converted to the option's type at registration.
//
// For remote modules ADDRESS and REMOTE_NAME set the remote section.
type EnvFeeder struct {
	Prefix string
	// Environ returns KEY=VALUE pairs; nil means os.Environ.
	Environ func() []string
}

// NewEnvFeeder creates an EnvFeeder reading the process environment.
func NewEnvFeeder() EnvFeeder {
	return EnvFeeder{Prefix: DefaultEnvPrefix}
}

func (e EnvFeeder) Feed(structure any) error {
	environ := e.Environ
	if environ == nil {
		environ = os.Environ
	}
	vars := make(map[string]string)
	for _, kv := range environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return applyEnv(structure, e.prefix(), vars)
}

func (e EnvFeeder) prefix() string {
	if e.Prefix == "" {
		return DefaultEnvPrefix
	}
	return e.Prefix
}

// envKey converts a module name to its environment form.
func envKey(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}

func applyEnv(structure any, prefix string, vars map[string]string) error {
	cfg, ok := structure.(*SuiteConfig)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrUnsupportedTarget, structure)
	}
	cfg.normalize()

	// Longest module key first so "A_B" wins over "A" for LABMOD_A_B_X.
	names := cfg.ModuleNames()
	sort.SliceStable(names, func(i, j int) bool { return len(envKey(names[i])) > len(envKey(names[j])) })

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		for _, name := range names {
			option, ok := strings.CutPrefix(rest, envKey(name)+"_")
			if !ok || option == "" {
				continue
			}
			setModuleOption(cfg, name, strings.ToLower(option), vars[key])
			break
		}
	}
	return nil
}

func setModuleOption(cfg *SuiteConfig, module, option, value string) {
	spec := cfg.Modules[module]
	if spec.Remote != nil {
		switch option {
		case remote.OptionAddress:
			spec.Remote.Address = value
			return
		case remote.OptionRemoteName:
			spec.Remote.Name = value
			return
		}
	}
	spec.Options[option] = value
	cfg.Modules[module] = spec
}
