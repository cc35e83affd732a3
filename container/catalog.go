package container

import (
	"slices"
	"strings"
	"sync"
)

// Catalog is a registry of component definitions grouped by package path.
// Scanning a package returns the components of the package and its
// subpackages, which is how modules pick up components without listing them.
type Catalog struct {
	mu       sync.RWMutex
	packages map[string][]*Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{packages: make(map[string][]*Definition)}
}

// Register adds definitions under pkg.
func (c *Catalog) Register(pkg string, defs ...*Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages[pkg] = append(c.packages[pkg], defs...)
}

// Scan returns copies of every definition registered under pkg or one of its
// subpackages, ordered by package path and then registration order.
func (c *Catalog) Scan(pkg string) []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var paths []string
	for p := range c.packages {
		if p == pkg || strings.HasPrefix(p, pkg+"/") {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)

	var out []*Definition
	for _, p := range paths {
		for _, def := range c.packages[p] {
			out = append(out, def.Clone())
		}
	}
	return out
}

// Packages returns every registered package path.
func (c *Catalog) Packages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.packages))
	for p := range c.packages {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
