// Package profile holds the registry of derivative profiles.
package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Store is the persistence needed by the registry.
type Store interface {
	UpsertProfile(ctx context.Context, profile *types.ArtworkProfile, overwrite bool) (*types.ArtworkProfile, error)
	ListProfiles(ctx context.Context) ([]types.ArtworkProfile, error)
}

// Defaults returns the built-in profiles, one per artwork kind.
func Defaults() []types.ArtworkProfile {
	return []types.ArtworkProfile{
		{
			Name: "default", Kind: types.KindPoster, Width: 224, Height: 332,
			Scaling: types.ScaleNormalize, CornerQuality: 1, PreProcess: true,
			AppliesTo: types.MaskOf(types.OwnerMovie, types.OwnerSeries, types.OwnerSeason, types.OwnerBoxSet),
		},
		{
			Name: "default", Kind: types.KindFanart, Width: 1280, Height: 720,
			Scaling: types.ScaleFit, CornerQuality: 1, PreProcess: true,
			AppliesTo: types.MaskOf(types.OwnerMovie, types.OwnerSeries, types.OwnerSeason, types.OwnerBoxSet),
		},
		{
			Name: "default", Kind: types.KindBanner, Width: 650, Height: 120,
			Scaling: types.ScaleStretch, CornerQuality: 1, PreProcess: true,
			AppliesTo: types.MaskOf(types.OwnerSeries, types.OwnerSeason, types.OwnerBoxSet),
		},
		{
			Name: "default", Kind: types.KindVideoImage, Width: 400, Height: 225,
			Scaling: types.ScaleNormalize, CornerQuality: 1, PreProcess: true,
			AppliesTo: types.MaskOf(types.OwnerEpisode),
		},
		{
			Name: "default", Kind: types.KindPhoto, Width: 200, Height: 300,
			Scaling: types.ScaleNormalize, CornerQuality: 1, PreProcess: true,
			AppliesTo: types.MaskOf(types.OwnerPerson),
		},
	}
}

type profileKey struct {
	name string
	kind types.ArtworkKind
}

// Registry answers profile lookups from an in-memory snapshot of the store.
type Registry struct {
	store  Store
	logger hclog.Logger

	mu       sync.RWMutex
	profiles map[profileKey]types.ArtworkProfile
}

// NewRegistry creates an empty registry. Call Seed (or Reload) before use.
func NewRegistry(store Store, logger hclog.Logger) *Registry {
	return &Registry{
		store:    store,
		logger:   logger.Named("profile-registry"),
		profiles: make(map[profileKey]types.ArtworkProfile),
	}
}

// Seed registers the defaults without touching existing rows, then upserts
// the configured profiles over them and reloads the snapshot.
func (r *Registry) Seed(ctx context.Context, configured []types.ArtworkProfile) error {
	for _, p := range Defaults() {
		p := p
		if _, err := r.store.UpsertProfile(ctx, &p, false); err != nil {
			return fmt.Errorf("failed to seed default profile %s/%s: %w", p.Kind, p.Name, err)
		}
	}

	for _, p := range configured {
		p := p
		if err := validate(&p); err != nil {
			return err
		}
		if _, err := r.store.UpsertProfile(ctx, &p, true); err != nil {
			return fmt.Errorf("failed to apply profile %s/%s: %w", p.Kind, p.Name, err)
		}
		r.logger.Debug("applied configured profile", "name", p.Name, "kind", p.Kind)
	}

	return r.Reload(ctx)
}

// Reload refreshes the snapshot from the store.
func (r *Registry) Reload(ctx context.Context) error {
	rows, err := r.store.ListProfiles(ctx)
	if err != nil {
		return err
	}

	profiles := make(map[profileKey]types.ArtworkProfile, len(rows))
	for _, p := range rows {
		profiles[profileKey{name: p.Name, kind: p.Kind}] = p
	}

	r.mu.Lock()
	r.profiles = profiles
	r.mu.Unlock()

	r.logger.Info("profiles loaded", "count", len(profiles))
	return nil
}

// Get returns the profile registered under (name, kind).
func (r *Registry) Get(name string, kind types.ArtworkKind) (types.ArtworkProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[profileKey{name: strings.ToLower(name), kind: kind}]
	return p, ok
}

// ListApplicable returns every profile of kind that applies to the owner kind.
func (r *Registry) ListApplicable(kind types.ArtworkKind, owner types.OwnerKind) []types.ArtworkProfile {
	return r.list(kind, owner, false)
}

// ListPreProcess returns the applicable profiles that are generated eagerly.
func (r *Registry) ListPreProcess(kind types.ArtworkKind, owner types.OwnerKind) []types.ArtworkProfile {
	return r.list(kind, owner, true)
}

func (r *Registry) list(kind types.ArtworkKind, owner types.OwnerKind, preProcessOnly bool) []types.ArtworkProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []types.ArtworkProfile
	for key, p := range r.profiles {
		if key.kind != kind || !p.AppliesTo.Has(owner) {
			continue
		}
		if preProcessOnly && !p.PreProcess {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func validate(p *types.ArtworkProfile) error {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if p.Name == cachekey.OriginalSuffix {
		// derivatives would share the cache name of the original
		return fmt.Errorf("profile name %q is reserved", p.Name)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("profile %s has unknown artwork kind %q", p.Name, p.Kind)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("profile %s/%s has invalid size %dx%d", p.Kind, p.Name, p.Width, p.Height)
	}
	if p.AppliesTo == 0 {
		return fmt.Errorf("profile %s/%s applies to no owner kind", p.Kind, p.Name)
	}
	if p.CornerQuality < 1 {
		p.CornerQuality = 1
	}
	p.Scaling = types.ParseScalingPolicy(string(p.Scaling))
	return nil
}
