package expose

import (
	"github.com/GoCodeAlone/modctx/container"
)

// SupportScope returns the scope a context root should use as parent when
// the context sits under foreign. A foreign parent that is itself a scope
// understands exposed definitions and is returned as is; any other registry
// gets a supporting scope in between, so exposed beans pushed up to the
// parent still resolve.
func SupportScope(h *container.Hierarchy, contextID string, foreign container.BeanSource) (*container.Scope, error) {
	if foreign == nil {
		return nil, nil
	}
	if s, ok := foreign.(*container.Scope); ok {
		return s, nil
	}
	return h.NewScope(container.ScopeOptions{
		ID:      contextID + ".support",
		Index:   -1,
		Foreign: foreign,
	})
}
