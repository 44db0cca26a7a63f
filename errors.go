package labmodular

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors
var (
	// Class construction errors
	ErrDuplicateDescriptorName = errors.New("duplicate descriptor name")
	ErrClassNameEmpty          = errors.New("class name is empty")
	ErrDescriptorNil           = errors.New("descriptor is nil")
	ErrRemoteInterfaceKind     = errors.New("remote interface must be an interface type")
	ErrClassNotFound           = errors.New("class not found in catalog")
	ErrClassAlreadyInCatalog   = errors.New("class already in catalog")

	// Registration errors
	ErrModuleNameEmpty         = errors.New("module name is empty")
	ErrClassNil                = errors.New("class is nil")
	ErrModuleAlreadyRegistered = errors.New("module already registered")
	ErrModuleNotFound          = errors.New("module not found")
	ErrMissingRequiredOption   = errors.New("missing required config option")
	ErrInvalidOption           = errors.New("invalid config option value")
	ErrModuleConstruction      = errors.New("module construction failed")
	ErrUnknownConnector        = errors.New("unknown connector")

	// Resolution errors
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrAmbiguousCapability  = errors.New("ambiguous capability")
	ErrDependencyCycle      = errors.New("dependency cycle")
	ErrDependencyNotActive  = fmt.Errorf("%w: dependency not active", ErrUnresolvedDependency)

	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrStillDepended     = errors.New("module still depended on")
	ErrHookFailed        = errors.New("lifecycle hook failed")
	ErrHookPanicked      = errors.New("lifecycle hook panicked")
	ErrStatusVarUnknown  = errors.New("unknown status variable")
	ErrStatusType        = errors.New("status value has unexpected type")
	ErrOptionUnknown     = errors.New("unknown config option")
	ErrOptionType        = errors.New("config value has unexpected type")
	ErrConnectorUnbound  = errors.New("connector not bound")
	ErrConnectorType     = errors.New("connector target has unexpected type")

	// Exposure errors
	ErrExposureNameEmpty     = errors.New("exposure name is empty")
	ErrExposureExists        = errors.New("exposure name already in use")
	ErrExposureNotFound      = errors.New("exposure not found")
	ErrExposureNoInterface   = errors.New("exposed module declares no remote interface")
	ErrExposureNotImplements = errors.New("module does not implement remote interface")

	// Status store errors
	ErrStatusStoreNil = errors.New("status store is nil")
)

// UnresolvedDependencyError reports a mandatory connector with no provider, or a
// pinned target that does not exist or lacks the capability.
type UnresolvedDependencyError struct {
	Module     string
	Connector  string
	Capability string
	Target     string
}

func (e *UnresolvedDependencyError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: module %q connector %q: target %q does not provide %q",
			ErrUnresolvedDependency, e.Module, e.Connector, e.Target, e.Capability)
	}
	return fmt.Sprintf("%s: module %q connector %q: no module provides %q",
		ErrUnresolvedDependency, e.Module, e.Connector, e.Capability)
}

func (e *UnresolvedDependencyError) Unwrap() error { return ErrUnresolvedDependency }

// AmbiguousCapabilityError reports a connector that more than one module could satisfy.
type AmbiguousCapabilityError struct {
	Module     string
	Connector  string
	Capability string
	Candidates []string
}

func (e *AmbiguousCapabilityError) Error() string {
	return fmt.Sprintf("%s: module %q connector %q: %q provided by %s",
		ErrAmbiguousCapability, e.Module, e.Connector, e.Capability, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousCapabilityError) Unwrap() error { return ErrAmbiguousCapability }

// DependencyCycleError names the modules participating in one cycle.
type DependencyCycleError struct {
	Members []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(e.Members, " -> "))
}

func (e *DependencyCycleError) Unwrap() error { return ErrDependencyCycle }

// StillDependedError lists the activated modules that hold a live binding to Module.
type StillDependedError struct {
	Module     string
	Dependents []string
}

func (e *StillDependedError) Error() string {
	return fmt.Sprintf("%s: %q is used by %s", ErrStillDepended, e.Module, strings.Join(e.Dependents, ", "))
}

func (e *StillDependedError) Unwrap() error { return ErrStillDepended }

// TransitionError reports a lifecycle operation attempted from a state that does not allow it.
type TransitionError struct {
	Module string
	From   State
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s module %q in state %s", ErrInvalidTransition, e.Op, e.Module, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// HookError wraps a failure raised by a module's own activation or deactivation hook.
type HookError struct {
	Module string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s: module %q %s: %v", ErrHookFailed, e.Module, e.Hook, e.Err)
}

func (e *HookError) Unwrap() []error { return []error{ErrHookFailed, e.Err} }
