// Package loader turns discovered plugin descriptors into registered plugins.
// Descriptors name their implementation through ClassName, which is looked up
// in a Catalog of factories compiled into the binary.
package loader

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
)

// ErrUnknownClass is returned when no factory is registered for a
// descriptor's class name.
var ErrUnknownClass = errors.New("no factory for plugin class")

// Factory creates a fresh plugin instance.
type Factory func() plugin.Plugin

// Catalog maps implementation class names to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates a catalog holding factories.
func NewCatalog(factories map[string]Factory) *Catalog {
	c := &Catalog{factories: make(map[string]Factory, len(factories))}
	for name, f := range factories {
		c.Add(name, f)
	}
	return c
}

// Add registers f under className. The first factory for a name wins.
func (c *Catalog) Add(className string, f Factory) bool {
	if className == "" || f == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[className]; exists {
		return false
	}
	c.factories[className] = f
	return true
}

// New instantiates the plugin class className.
func (c *Catalog) New(className string) (plugin.Plugin, error) {
	c.mu.RLock()
	f, ok := c.factories[className]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	return f(), nil
}

// Names lists the known class names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
