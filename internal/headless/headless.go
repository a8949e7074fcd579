// Package headless is the built-in browser plugin used when no rendering
// engine is available. It keeps the page state and key bindings in memory so
// that profile switching and keymaps work without a GUI.
package headless

import (
	"context"
	"sort"
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin      = (*Module)(nil)
	_ roles.Browser      = (*Module)(nil)
	_ roles.ObjectBinder = (*Page)(nil)
)

// Binding is a registered key event.
type Binding struct {
	Key   int  `json:"key"`
	Code  int  `json:"code"`
	Which int  `json:"which"`
	Alt   bool `json:"alt"`
	Ctrl  bool `json:"ctrl"`
	Shift bool `json:"shift"`
}

// Module implements the headless browser plugin.
type Module struct {
	logger *zap.Logger

	mu       sync.RWMutex
	page     *Page
	bindings map[int]Binding
	resets   int
}

// New creates a new headless browser instance.
func New() *Module {
	return &Module{bindings: make(map[int]Binding)}
}

func (m *Module) Initialize(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.mu.Lock()
	m.page = &Page{objects: make(map[string]any)}
	m.mu.Unlock()
	return nil
}

func (m *Module) Deinitialize(_ context.Context) error {
	m.mu.Lock()
	m.page = nil
	m.bindings = make(map[int]Binding)
	m.mu.Unlock()
	return nil
}

func (m *Module) ResetPrimarySurface() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

// FirstPage returns the page, or nil before Initialize.
func (m *Module) FirstPage() roles.Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.page == nil {
		return nil
	}
	return m.page
}

func (m *Module) ClearKeyEvents() {
	m.mu.Lock()
	m.bindings = make(map[int]Binding)
	m.mu.Unlock()
}

func (m *Module) RegisterKeyEvent(key, code, which int, alt, ctrl, shift bool) {
	m.mu.Lock()
	m.bindings[key] = Binding{Key: key, Code: code, Which: which, Alt: alt, Ctrl: ctrl, Shift: shift}
	m.mu.Unlock()
}

// Bindings returns the registered key events ordered by key.
func (m *Module) Bindings() []Binding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SurfaceResets counts ResetPrimarySurface calls.
func (m *Module) SurfaceResets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}

// Page is the headless primary page.
type Page struct {
	mu      sync.RWMutex
	objects map[string]any
	resets  int
}

// Reset drops every bound object.
func (p *Page) Reset() {
	p.mu.Lock()
	p.objects = make(map[string]any)
	p.resets++
	p.mu.Unlock()
}

func (p *Page) AddObject(name string, obj any) {
	p.mu.Lock()
	p.objects[name] = obj
	p.mu.Unlock()
}

// Object returns the object bound under name.
func (p *Page) Object(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.objects[name]
	return o, ok
}

// Resets counts Reset calls.
func (p *Page) Resets() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resets
}
