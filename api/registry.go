// Package api provides a convenience HTTP surface over the read path:
// point lookups against a named Reader, fronted by JWT auth, the same
// shape as the teacher's api.SetupRoutes/Handlers but retargeted from
// RabbitMQ/CouchDB process bookkeeping to reader.Getter lookups. It is
// additive to §6's wire protocol, not a replacement for it -- a
// deployment with no HTTP read surface still works over the channel
// transport directly.
package api

import (
	"fmt"
	"sync"

	"flowcore.dev/engine/reader"
)

// ViewRegistry maps a human-assigned view name (typically a Reader
// node's NodeSpec.Name) to the Getter that resolves it, so an operator
// can address a materialized view by name over HTTP instead of by
// node.Address. The embedding binary registers a view once its
// Assembler.Commit call has placed the corresponding Reader node.
type ViewRegistry struct {
	mu    sync.RWMutex
	views map[string]*reader.Getter
}

func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{views: make(map[string]*reader.Getter)}
}

// Register binds name to g, replacing any prior binding -- used both
// for initial registration and when a migration moves a view to a new
// Getter.
func (v *ViewRegistry) Register(name string, g *reader.Getter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[name] = g
}

// Unregister removes name, used when a migration drops the view.
func (v *ViewRegistry) Unregister(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.views, name)
}

func (v *ViewRegistry) resolve(name string) (*reader.Getter, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	g, ok := v.views[name]
	if !ok {
		return nil, fmt.Errorf("api: no such view %q", name)
	}
	return g, nil
}

// Names returns every currently registered view name.
func (v *ViewRegistry) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.views))
	for name := range v.views {
		out = append(out, name)
	}
	return out
}
