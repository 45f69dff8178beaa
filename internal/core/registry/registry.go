// Package registry holds named Processor implementations so the backend can
// be swapped without touching any caller. Registration happens at start-up;
// lookups after that are read-mostly, hence the RWMutex.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type Registry struct {
	mu          sync.RWMutex
	processors  map[string]ports.Processor
	defaultName string
}

func New() *Registry {
	return &Registry{processors: make(map[string]ports.Processor)}
}

// Register adds a processor under name, replacing any previous registration
// of that name. The first registration becomes the default until SetDefault
// overrides it.
func (r *Registry) Register(name string, p ports.Processor) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("registry: empty processor name")
	}
	if p == nil {
		return errors.New("registry: nil processor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
	return nil
}

// Get resolves a processor by name. An empty name resolves the default.
func (r *Registry) Get(name string) (ports.Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	p, ok := r.processors[name]
	if !ok {
		return nil, domain.WrapError(domain.ErrProcessorNotFound, "resolve processor", errors.New(nameForError(name)))
	}
	return p, nil
}

func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processors[name]; !ok {
		return domain.WrapError(domain.ErrProcessorNotFound, "set default processor", errors.New(nameForError(name)))
	}
	r.defaultName = name
	return nil
}

// Names lists registered processors in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.processors))
	for name := range r.processors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func nameForError(name string) string {
	if name == "" {
		return "no processors registered"
	}
	return "name " + name
}
