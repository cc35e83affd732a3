package modctx

import (
	"errors"
	"fmt"
	"strings"
)

// Context errors
var (
	// Configuration errors
	ErrConfiguration      = errors.New("invalid module configuration")
	ErrDuplicateModule    = errors.New("duplicate module name")
	ErrModuleConfigFrozen = errors.New("module bootstrap configuration is frozen")
	ErrModuleNotFound     = errors.New("module not found")

	// Dependency resolution errors
	ErrCyclicDependency  = errors.New("cyclic module dependency")
	ErrMissingDependency = errors.New("module dependency is missing")

	// Bootstrap errors
	ErrBootstrapFailed     = errors.New("context bootstrap failed")
	ErrAlreadyBootstrapped = errors.New("context was already bootstrapped")
	ErrContextClosed       = errors.New("context is closed")
)

// ConfigurationError reports an invalid module setup found before any scope
// is created.
type ConfigurationError struct {
	Module string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := ErrConfiguration.Error()
	if e.Module != "" {
		msg += fmt.Sprintf(" (module %s)", e.Module)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CyclicDependencyError carries the modules forming a required-dependency
// cycle. The first module is repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// MissingDependencyError reports a required or runtime dependency that is
// not among the enabled modules. Disabled is set when the dependency exists
// but is disabled.
type MissingDependencyError struct {
	Module     string
	Dependency string
	Disabled   bool
}

func (e *MissingDependencyError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("%s: %s requires disabled module %s", ErrMissingDependency, e.Module, e.Dependency)
	}
	return fmt.Sprintf("%s: %s requires unknown module %s", ErrMissingDependency, e.Module, e.Dependency)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }

// BootstrapError wraps a failure during bootstrap with the module and state
// the orchestrator was in. Module is empty for context-wide work.
type BootstrapError struct {
	Module string
	State  State
	Err    error
}

func (e *BootstrapError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%s during %s: %v", ErrBootstrapFailed, e.State, e.Err)
	}
	return fmt.Sprintf("%s during %s of module %s: %v", ErrBootstrapFailed, e.State, e.Module, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

func (e *BootstrapError) Is(target error) bool { return target == ErrBootstrapFailed }
