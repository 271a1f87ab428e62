package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Capability is what a provider can supply: an artwork kind for an owner kind.
type Capability struct {
	Kind  types.ArtworkKind
	Owner types.OwnerKind
}

// Key is the configuration key of the capability, e.g. "poster/movie".
func (c Capability) Key() string {
	return string(c.Kind) + "/" + string(c.Owner)
}

// Entry is a registered provider for one capability.
type Entry struct {
	Name     string
	Priority int
	Lookup   LookupFunc

	seq int
}

// Registry indexes providers by capability.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	byCap     map[Capability][]Entry
	seq       int
	logger    hclog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger hclog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		byCap:     make(map[Capability][]Entry),
		logger:    logger.Named("provider-registry"),
	}
}

// Register adds a provider. Lower priority values are tried first.
func (r *Registry) Register(p Provider, priority int) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider name is empty: %w", aErrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	filter, filtered := p.(OwnerFilter)
	r.seq++

	var caps []string
	for _, kind := range types.AllArtworkKinds {
		lookup, ok := lookupFor(p, kind)
		if !ok {
			continue
		}
		for _, owner := range types.AllOwnerKinds {
			if filtered && !filter.Supports(owner) {
				continue
			}
			c := Capability{Kind: kind, Owner: owner}
			r.byCap[c] = append(r.byCap[c], Entry{Name: name, Priority: priority, Lookup: lookup, seq: r.seq})
			caps = append(caps, c.Key())
		}
	}

	if len(caps) == 0 {
		return fmt.Errorf("provider %s implements no artwork capability", name)
	}

	r.providers[name] = p
	r.logger.Info("registered provider", "provider", name, "priority", priority, "capabilities", len(caps))
	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, aErrors.ErrProviderNotFound)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns the entries for a capability. When order is non-empty
// only the named providers take part, in that order; otherwise all providers
// are returned by ascending priority, then registration order.
func (r *Registry) Providers(c Capability, order []string) []Entry {
	r.mu.RLock()
	entries := append([]Entry(nil), r.byCap[c]...)
	r.mu.RUnlock()

	if len(order) == 0 {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Priority != entries[j].Priority {
				return entries[i].Priority < entries[j].Priority
			}
			return entries[i].seq < entries[j].seq
		})
		return entries
	}

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	ordered := make([]Entry, 0, len(order))
	for _, name := range order {
		if e, ok := byName[name]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered
}
