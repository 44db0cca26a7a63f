package feeders

import (
	"errors"
	"fmt"
)

// Loading errors
var (
	ErrUnsupportedExtension = errors.New("unsupported config file extension")
	ErrUnsupportedTarget    = errors.New("feeder target must be *SuiteConfig")
	ErrStructurePointer     = errors.New("expected pointer to struct")
)

// Default tag errors
var (
	ErrDefaultUnsupportedType = errors.New("unsupported type for default tag")
	ErrDefaultConversion      = errors.New("cannot convert default value")
)

// DotEnv feeder errors
var (
	ErrDotEnvInvalidLineFormat = errors.New("invalid .env line format")
)

// Validation errors
var (
	ErrModuleNameInvalid      = errors.New("invalid module name")
	ErrModuleClassRequired    = errors.New("module needs a class or a remote section")
	ErrModuleClassAndRemote   = errors.New("module cannot have both a class and a remote section")
	ErrRemoteAddressRequired  = errors.New("remote module address is required")
	ErrRemoteNotReexportable  = errors.New("remote modules cannot be exposed again")
	ErrStartModuleUnknown     = errors.New("start list names an unknown module")
	ErrAutosaveScheduleFormat = errors.New("invalid autosave schedule")
)

func wrapDotEnvLineError(lineNum int, line string) error {
	return fmt.Errorf("%w at line %d: %s", ErrDotEnvInvalidLineFormat, lineNum, line)
}

func wrapDefaultConversionError(field, value string, err error) error {
	return fmt.Errorf("%w %q for %s: %w", ErrDefaultConversion, value, field, err)
}
