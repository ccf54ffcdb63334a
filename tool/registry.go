package tool

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// Handler executes one tool against already-validated input and returns its
// textual result.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Descriptor is the immutable registration record for one tool.
type Descriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Inputs      map[string]FieldSpec `json:"inputs"`
	Handler     Handler              `json:"-"`
}

var (
	// ErrEmptyToolName is returned when registering a descriptor without a name.
	ErrEmptyToolName = errors.New("tool: descriptor name is empty")
	// ErrNilHandler is returned when registering a descriptor without a handler.
	ErrNilHandler = errors.New("tool: descriptor handler is nil")
)

// Registry maps action names to tool descriptors. It is safe for concurrent use.
//
// Registering a name twice replaces the earlier descriptor, so repeated
// startup registration is idempotent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds desc under desc.Name, replacing any existing registration.
// It reports whether an earlier descriptor was replaced.
func (r *Registry) Register(desc Descriptor) (replaced bool, err error) {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return false, ErrEmptyToolName
	}
	if desc.Handler == nil {
		return false, ErrNilHandler
	}
	desc.Name = name
	desc.Inputs = cloneInputs(desc.Inputs)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.tools[name]
	r.tools[name] = desc
	return replaced, nil
}

// Resolve returns the descriptor registered under name. Names match exactly.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[name]
	return desc, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		out = append(out, desc)
	}
	slices.SortFunc(out, func(a, b Descriptor) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func cloneInputs(inputs map[string]FieldSpec) map[string]FieldSpec {
	cloned := make(map[string]FieldSpec, len(inputs))
	for name, spec := range inputs {
		cloned[name] = spec
	}
	return cloned
}
