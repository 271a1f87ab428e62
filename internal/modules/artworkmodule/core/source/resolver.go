package source

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// SkipFunc reports whether a candidate was already rejected for the artwork.
type SkipFunc func(types.Candidate) bool

// Resolver picks the candidate for an artwork.
type Resolver struct {
	providers *Registry
	locals    []LocalFinder
	order     map[string][]string
	logger    hclog.Logger
}

// NewResolver creates a resolver. order maps capability keys such as
// "poster/movie" to provider names in priority order.
func NewResolver(providers *Registry, locals []LocalFinder, order map[string][]string, logger hclog.Logger) *Resolver {
	return &Resolver{
		providers: providers,
		locals:    locals,
		order:     order,
		logger:    logger.Named("source-resolver"),
	}
}

// Resolve returns the best candidate for the artwork, or ok == false when no
// local finder and no provider produced one. Provider failures are logged and
// the next provider is tried; only context cancellation is returned.
func (r *Resolver) Resolve(ctx context.Context, art *types.Artwork, owner *types.OwnerRecord, skip SkipFunc) (types.Candidate, bool, error) {
	if owner == nil {
		owner = &types.OwnerRecord{Kind: art.OwnerKind, OwnerID: art.OwnerID, Identifier: art.OwnerIdentifier}
	}
	if skip == nil {
		skip = func(types.Candidate) bool { return false }
	}

	for _, finder := range r.locals {
		if err := ctx.Err(); err != nil {
			return types.Candidate{}, false, err
		}
		c, found, err := finder.Find(ctx, art.Kind, owner)
		if err != nil {
			r.logger.Warn("local finder failed", "finder", finder.Name(), "artwork_id", art.ID, "error", err)
			continue
		}
		if !found {
			continue
		}
		c = normalize(c, finder.Name())
		if c.WellFormed() && !skip(c) {
			r.logger.Debug("using local artwork", "finder", finder.Name(), "artwork_id", art.ID, "file", c.File)
			return c, true, nil
		}
	}

	capability := Capability{Kind: art.Kind, Owner: art.OwnerKind}
	for _, entry := range r.providers.Providers(capability, r.order[capability.Key()]) {
		if err := ctx.Err(); err != nil {
			return types.Candidate{}, false, err
		}

		candidates, err := entry.Lookup(ctx, owner)
		if err != nil {
			r.logger.Warn("provider lookup failed", "provider", entry.Name, "artwork_id", art.ID, "error", err)
			continue
		}

		for _, c := range candidates {
			c = normalize(c, entry.Name)
			if c.Priority == 0 {
				c.Priority = entry.Priority
			}
			if !c.WellFormed() || skip(c) {
				continue
			}
			r.logger.Debug("using provider artwork", "provider", entry.Name, "artwork_id", art.ID, "url", c.URL)
			return c, true, nil
		}
	}

	return types.Candidate{}, false, nil
}

func normalize(c types.Candidate, source string) types.Candidate {
	if c.Source == "" {
		c.Source = source
	}
	if c.Hash == "" {
		switch {
		case c.URL != "":
			c.Hash = cachekey.HashString(c.URL)
		case c.File != "":
			c.Hash = cachekey.HashString(c.File)
		}
	}
	return c
}
