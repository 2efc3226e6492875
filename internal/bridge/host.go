package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Host owns the active modules, one per experience.
type Host struct {
	cfg  Config
	deps Deps

	mu      sync.RWMutex
	modules map[string]*Module
}

func NewHost(cfg Config, deps Deps) *Host {
	return &Host{cfg: cfg, deps: deps, modules: make(map[string]*Module)}
}

// Activate creates and activates a module for the manifest. A module already
// active for the same experience is torn down and replaced.
func (h *Host) Activate(ctx context.Context, manifestData []byte) (*Module, error) {
	mod := NewModule(manifestData, h.cfg, h.deps)
	if err := mod.Activate(ctx); err != nil {
		return nil, err
	}
	experienceID := mod.ExperienceID()

	h.mu.Lock()
	previous := h.modules[experienceID]
	h.modules[experienceID] = mod
	h.mu.Unlock()

	if previous != nil {
		previous.Teardown()
		// The old module unregistered the shared mailbox slot; claim it again.
		if err := h.deps.PostOffice.RegisterModuleAndGetPendingDeliveries(ctx, experienceID, mod); err != nil {
			h.mu.Lock()
			if h.modules[experienceID] == mod {
				delete(h.modules, experienceID)
			}
			h.mu.Unlock()
			mod.Teardown()
			return nil, fmt.Errorf("failed to re-register %s: %w", experienceID, err)
		}
	}
	return mod, nil
}

func (h *Host) Module(experienceID string) (*Module, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	mod, ok := h.modules[experienceID]
	return mod, ok
}

// Deactivate tears down the module of an experience.
func (h *Host) Deactivate(experienceID string) bool {
	h.mu.Lock()
	mod, ok := h.modules[experienceID]
	delete(h.modules, experienceID)
	h.mu.Unlock()

	if ok {
		mod.Teardown()
	}
	return ok
}

// Experiences lists the active experience ids.
func (h *Host) Experiences() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.modules))
	for id := range h.modules {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown tears down every module.
func (h *Host) Shutdown() {
	h.mu.Lock()
	modules := h.modules
	h.modules = make(map[string]*Module)
	h.mu.Unlock()

	for _, mod := range modules {
		mod.Teardown()
	}
}
