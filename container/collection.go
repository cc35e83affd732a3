package container

import (
	"reflect"
	"slices"
	"sync"
)

// RefreshableCollection is a live view of every bean in a context that is
// assignable to one type. A non-incremental collection is a snapshot taken at
// creation and only changes on an explicit Refresh. An incremental one also
// picks up beans of every module bootstrapped after it was created.
type RefreshableCollection struct {
	mu          sync.RWMutex
	elem        reflect.Type
	incremental bool
	items       []any
	hierarchy   *Hierarchy
}

// ElemType returns the element type of the collection.
func (c *RefreshableCollection) ElemType() reflect.Type { return c.elem }

// Incremental reports whether the collection tracks later registrations.
func (c *RefreshableCollection) Incremental() bool { return c.incremental }

// Items returns the current members.
func (c *RefreshableCollection) Items() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of members.
func (c *RefreshableCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Refresh re-evaluates the collection against the hierarchy.
func (c *RefreshableCollection) Refresh() error {
	items, err := c.hierarchy.BeansOfType(c.elem)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Items returns the members of c as T values. Members that are not a T are
// left out.
func Items[T any](c *RefreshableCollection) []T {
	raw := c.Items()
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		if v, ok := item.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// CollectionOf returns a collection of every T in the context of r.
func CollectionOf[T any](r Resolver, incremental bool) (*RefreshableCollection, error) {
	return r.Collection(reflect.TypeFor[T](), incremental)
}
