// Package installer runs versioned setup units (typically schema changes)
// at fixed points of a context bootstrap and records which versions ran.
package installer

import (
	"context"
	"crypto/md5" // #nosec G501 - used for fixed-width ids, not security
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/GoCodeAlone/modctx/container"
)

// UnknownVersion is the recorded version of an installer that never ran.
const UnknownVersion = -1

// Column limits of the installer table.
const (
	MaxIDLength          = 120
	MaxDescriptionLength = 500
)

var (
	// ErrInstallerFailed matches every ExecutionError.
	ErrInstallerFailed = errors.New("installer failed")

	// ErrInvalidAction is returned for unknown action names.
	ErrInvalidAction = errors.New("invalid installer action")

	// ErrInvalidTableName is returned for table names that are not plain identifiers.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrNoRepository is returned when installers need a version store and none exists.
	ErrNoRepository = errors.New("no installer repository available")
)

// Phase is the point of the bootstrap an installer runs at.
type Phase int

const (
	BeforeContextBootstrap Phase = iota
	BeforeModuleBootstrap
	AfterModuleBootstrap
	AfterContextBootstrap
)

func (p Phase) String() string {
	switch p {
	case BeforeContextBootstrap:
		return "BeforeContextBootstrap"
	case BeforeModuleBootstrap:
		return "BeforeModuleBootstrap"
	case AfterModuleBootstrap:
		return "AfterModuleBootstrap"
	case AfterContextBootstrap:
		return "AfterContextBootstrap"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Action decides what happens to an installer.
type Action string

const (
	// ActionExecute runs the installer when its version is newer than the recorded one.
	ActionExecute Action = "execute"
	// ActionSkip neither runs nor records.
	ActionSkip Action = "skip"
	// ActionDisabled neither runs nor records. At context level it also vetoes module settings.
	ActionDisabled Action = "disabled"
	// ActionForce runs regardless of the recorded version.
	ActionForce Action = "force"
	// ActionRegister records the version without running.
	ActionRegister Action = "register"
)

// ParseAction parses an action name case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionExecute, ActionSkip, ActionDisabled, ActionForce, ActionRegister:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// UnmarshalText implements encoding.TextUnmarshaler so actions can be read
// from configuration files.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Metadata describes an installer.
type Metadata struct {
	Name        string
	Version     int
	Description string
	Group       string
	Phase       Phase
	Order       int
}

// Installer is a unit of setup work.
type Installer interface {
	Install(ctx context.Context) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context) error

// Install implements Installer.
func (f InstallerFunc) Install(ctx context.Context) error { return f(ctx) }

// AlwaysRun installers run on every execute regardless of the recorded version.
type AlwaysRun interface {
	AlwaysRun() bool
}

// Registration ties metadata to a factory creating the installer against
// the scope it is wired in.
type Registration struct {
	Metadata Metadata
	Factory  func(r container.Resolver) (Installer, error)
}

// Static returns a registration for an existing installer.
func Static(md Metadata, inst Installer) Registration {
	return Registration{
		Metadata: md,
		Factory:  func(container.Resolver) (Installer, error) { return inst, nil },
	}
}

// ID returns the stored id for name: the name itself, or its MD5 hex
// digest when it does not fit the id column.
func ID(name string) string {
	if len(name) <= MaxIDLength {
		return name
	}
	sum := md5.Sum([]byte(name)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// TruncateDescription cuts d to the description column width without
// splitting a multi-byte rune.
func TruncateDescription(d string) string {
	if len(d) <= MaxDescriptionLength {
		return d
	}
	end := MaxDescriptionLength
	for end > 0 && !utf8.RuneStart(d[end]) {
		end--
	}
	return d[:end]
}

// ExecutionError reports a failed installer.
type ExecutionError struct {
	Module    string
	Installer string
	Phase     Phase
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("installer %s of module %s failed in phase %s: %v", e.Installer, e.Module, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches ErrInstallerFailed.
func (e *ExecutionError) Is(target error) bool { return target == ErrInstallerFailed }
