package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrMismatch marks a redeclaration that differs from the registered schema.
var ErrMismatch = errors.New("schema: mismatch")

// MismatchError carries both descriptions of a conflicting redeclaration.
type MismatchError struct {
	Type       string
	Registered string
	Declared   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("schema: type %q redeclared as %q, registered %q", e.Type, e.Declared, e.Registered)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Registry holds at most one schema per counter type. A Registry belongs to a
// single job and is not safe for concurrent use.
type Registry struct {
	cache   *Cache
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry. cache may be nil.
func NewRegistry(cache *Cache) *Registry {
	return &Registry{
		cache:   cache,
		schemas: make(map[string]*Schema),
	}
}

// Register returns the schema for typeName, creating it from desc on first
// use. A later desc whose normalized form differs yields a *MismatchError.
func (r *Registry) Register(typeName, desc string) (*Schema, error) {
	fixed := Fixup(typeName, desc)
	if s, ok := r.schemas[typeName]; ok {
		if s.Desc() != fixed {
			return nil, &MismatchError{Type: typeName, Registered: s.Desc(), Declared: fixed}
		}
		return s, nil
	}

	var (
		s   *Schema
		err error
	)
	if r.cache != nil {
		s, err = r.cache.Get(typeName, fixed)
	} else {
		s, err = Parse(fixed)
	}
	if err != nil {
		return nil, fmt.Errorf("schema: type %q: %w", typeName, err)
	}
	r.schemas[typeName] = s
	return s, nil
}

// Get returns the registered schema for typeName.
func (r *Registry) Get(typeName string) (*Schema, bool) {
	s, ok := r.schemas[typeName]
	return s, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Cache shares parsed schemas between concurrently processed jobs. Parsed
// schemas are immutable, so handing the same pointer to several jobs is safe.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*Schema
}

type cacheKey struct {
	typeName string
	desc     string
}

// NewCache creates an empty schema cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Schema)}
}

// Get returns the cached schema for an already normalized description,
// parsing and storing it on first use.
func (c *Cache) Get(typeName, fixedDesc string) (*Schema, error) {
	key := cacheKey{typeName: typeName, desc: fixedDesc}

	c.mu.RLock()
	s, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := Parse(fixedDesc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = s
	return s, nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
