package validator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry maps validator names, as used by criteria, to instances.
// It is filled at startup and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// Entry is one registered validator as listed by Entries.
type Entry struct {
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register adds v under name. Names are never overwritten.
func (r *Registry) Register(name string, v Validator) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty registration name", ErrInvalidMetadata)
	}
	if v == nil {
		return fmt.Errorf("%w: nil validator for %q", ErrInvalidMetadata, name)
	}
	if err := checkMetadata(v.Metadata()); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateValidator, name)
	}
	r.validators[name] = v
	return nil
}

// MustRegister is Register for startup code that cannot continue on misconfiguration.
func (r *Registry) MustRegister(name string, v Validator) {
	if err := r.Register(name, v); err != nil {
		panic(err)
	}
}

// Resolve returns the validator registered under name.
func (r *Registry) Resolve(name string) (Validator, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownValidator, name)
	}
	return v, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries lists registered validators with their metadata, sorted by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Name: name, Metadata: r.validators[name].Metadata()})
	}
	return out
}

func checkMetadata(m Metadata) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidMetadata, m.Name)
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("%w: %s: version %q: %v", ErrInvalidMetadata, m.Name, m.Version, err)
		}
	}
	return nil
}
