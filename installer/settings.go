package installer

import (
	"github.com/GoCodeAlone/modctx/internal/logging"
)

// Settings decide the action of installers. Lookups go from most to least
// specific: the installer name, the custom Rule, the group, then
// DefaultAction.
type Settings struct {
	DefaultAction Action            `yaml:"defaultAction" toml:"defaultAction" json:"defaultAction"`
	Groups        map[string]Action `yaml:"groups" toml:"groups" json:"groups"`
	Installers    map[string]Action `yaml:"installers" toml:"installers" json:"installers"`

	// Rule may decide for an installer; returning false defers to the group
	// and default settings.
	Rule func(md Metadata) (Action, bool) `yaml:"-" toml:"-" json:"-"`
}

// Resolve returns the configured action for md and whether any setting
// applied.
func (s *Settings) Resolve(md Metadata) (Action, bool) {
	if s == nil {
		return "", false
	}
	if a, ok := s.Installers[md.Name]; ok {
		return a, true
	}
	if s.Rule != nil {
		if a, ok := s.Rule(md); ok {
			return a, true
		}
	}
	if md.Group != "" {
		if a, ok := s.Groups[md.Group]; ok {
			return a, true
		}
	}
	if s.DefaultAction != "" {
		return s.DefaultAction, true
	}
	return "", false
}

// ActionFor returns the action for md, ActionExecute when nothing applies.
func (s *Settings) ActionFor(md Metadata) Action {
	if a, ok := s.Resolve(md); ok {
		return a
	}
	return ActionExecute
}

// DetermineAction combines context and module settings. A context-level
// DISABLED cannot be overridden; otherwise a module setting that applies
// wins over the context decision.
func DetermineAction(md Metadata, contextSettings, moduleSettings *Settings, logger logging.Logger) Action {
	logger = logging.OrNop(logger)

	action := contextSettings.ActionFor(md)
	if action == ActionDisabled {
		if _, ok := moduleSettings.Resolve(md); ok {
			logger.Debug("Installer disabled, context vetoes module", "installer", md.Name)
		}
		return ActionDisabled
	}

	if moduleAction, ok := moduleSettings.Resolve(md); ok {
		action = moduleAction
	}
	return action
}
