// Package derive generates profile derivatives from cached originals.
package derive

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/imageio"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"golang.org/x/sync/singleflight"
)

// Repository is the persistence needed by the generator.
type Repository interface {
	GetArtwork(ctx context.Context, id int64) (*types.Artwork, error)
	GetLocatedArtwork(ctx context.Context, id int64) (*types.LocatedArtwork, error)
	UpdateLocatedArtwork(ctx context.Context, located *types.LocatedArtwork) error
	GetGeneratedArtwork(ctx context.Context, locatedID, profileID int64) (*types.GeneratedArtwork, bool, error)
	StoreGeneratedArtwork(ctx context.Context, generated *types.GeneratedArtwork) error
}

// Profiles looks up derivative profiles.
type Profiles interface {
	ListPreProcess(kind types.ArtworkKind, owner types.OwnerKind) []types.ArtworkProfile
	Get(name string, kind types.ArtworkKind) (types.ArtworkProfile, bool)
}

// StopReason tells why generation for a located artwork was abandoned.
type StopReason string

const (
	StopNone     StopReason = ""
	StopMissing  StopReason = "original_missing"
	StopResource StopReason = "resource_exhausted"
	StopCorrupt  StopReason = "corrupt_image"
)

// Result summarizes one Generate run.
type Result struct {
	Generated int
	Failed    int
	Stopped   StopReason
	Cause     error
}

// Generator produces derivatives.
type Generator struct {
	repo     Repository
	store    storage.ContentStore
	profiles Profiles
	guard    ResourceGuard
	logger   hclog.Logger

	onDemand singleflight.Group
}

// NewGenerator creates a generator.
func NewGenerator(repo Repository, store storage.ContentStore, profiles Profiles, guard ResourceGuard, logger hclog.Logger) *Generator {
	return &Generator{
		repo:     repo,
		store:    store,
		profiles: profiles,
		guard:    guard,
		logger:   logger.Named("derivative-generator"),
	}
}

// Generate creates every pre-process derivative of a DONE located artwork.
// A missing original, memory exhaustion or a corrupt original stop the run
// and move the located artwork to UPDATED, ERROR or INVALID respectively;
// any other failure only affects the profile at hand.
func (g *Generator) Generate(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork) (Result, error) {
	var result Result
	if located.Status != types.StatusDone || !located.HasCache() {
		return result, nil
	}

	profiles := g.profiles.ListPreProcess(art.Kind, art.OwnerKind)
	if len(profiles) == 0 {
		return result, nil
	}

	logger := g.logger.With("artwork_id", art.ID, "located_id", located.ID)

	img, err := g.loadOriginal(ctx, art, located)
	if err != nil {
		return g.stop(ctx, logger, located, err)
	}

	for i := range profiles {
		profile := &profiles[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, err := g.generateOne(ctx, art, located, img, profile); err != nil {
			if stopsRun(err) {
				stopped, stopErr := g.stop(ctx, logger.With("profile", profile.Name), located, err)
				stopped.Generated, stopped.Failed = result.Generated, result.Failed
				return stopped, stopErr
			}
			result.Failed++
			logger.Warn("derivative failed", "profile", profile.Name, "error", err)
			g.recordFailure(ctx, logger, located, profile, err)
			continue
		}
		result.Generated++
	}

	logger.Debug("derivatives generated", "generated", result.Generated, "failed", result.Failed)
	return result, nil
}

// Derivative returns the bytes and MIME type of the profile derivative,
// generating and caching it on first request.
func (g *Generator) Derivative(ctx context.Context, locatedID int64, profileName string) ([]byte, string, error) {
	key := fmt.Sprintf("%d/%s", locatedID, profileName)
	v, err, _ := g.onDemand.Do(key, func() (interface{}, error) {
		return g.derivative(ctx, locatedID, profileName)
	})
	if err != nil {
		return nil, "", err
	}
	d := v.(derivative)
	return d.data, d.mimeType, nil
}

type derivative struct {
	data     []byte
	mimeType string
}

func (g *Generator) derivative(ctx context.Context, locatedID int64, profileName string) (derivative, error) {
	located, err := g.repo.GetLocatedArtwork(ctx, locatedID)
	if err != nil {
		return derivative{}, err
	}
	art, err := g.repo.GetArtwork(ctx, located.ArtworkID)
	if err != nil {
		return derivative{}, err
	}

	profile, ok := g.profiles.Get(profileName, art.Kind)
	if !ok || !profile.AppliesTo.Has(art.OwnerKind) {
		return derivative{}, fmt.Errorf("profile %s for %s of %s: %w", profileName, art.Kind, art.OwnerKind, aErrors.ErrNotFound)
	}
	if located.Status != types.StatusDone || !located.HasCache() {
		return derivative{}, aErrors.Missing("derivative", fmt.Errorf("original of %d not cached: %w", located.ID, aErrors.ErrContentNotFound)).WithID(located.ID)
	}

	kind := storage.KindFor(art.Kind)
	mimeType := types.MimeType(profile.OutputFormat(located.ImageType))

	generated, found, err := g.repo.GetGeneratedArtwork(ctx, located.ID, profile.ID)
	if err != nil {
		return derivative{}, err
	}
	if found && generated.Status == types.GeneratedDone {
		data, err := g.store.Get(ctx, kind, cachekey.RelativePath(generated.CacheDir, generated.CacheFilename))
		if err == nil {
			return derivative{data: data, mimeType: mimeType}, nil
		}
		if !aErrors.IsNotFound(err) {
			return derivative{}, err
		}
		g.logger.Info("cached derivative vanished, regenerating", "located_id", located.ID, "profile", profile.Name)
	}

	img, err := g.loadOriginal(ctx, art, located)
	if err != nil {
		_, stopErr := g.stop(ctx, g.logger, located, err)
		if stopErr != nil {
			return derivative{}, stopErr
		}
		return derivative{}, err
	}

	data, err := g.generateOne(ctx, art, located, img, &profile)
	if err != nil {
		if stopsRun(err) {
			if _, stopErr := g.stop(ctx, g.logger, located, err); stopErr != nil {
				return derivative{}, stopErr
			}
			return derivative{}, err
		}
		g.recordFailure(ctx, g.logger, located, &profile, err)
		return derivative{}, err
	}
	return derivative{data: data, mimeType: mimeType}, nil
}

// loadOriginal reads and decodes the cached original, recording its size
// when still unknown.
func (g *Generator) loadOriginal(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork) (image.Image, error) {
	data, err := g.store.Get(ctx, storage.KindFor(art.Kind), cachekey.RelativePath(located.CacheDir, located.CacheFilename))
	if err != nil {
		if aErrors.IsNotFound(err) {
			return nil, aErrors.Missing("load_original", err).WithID(located.ID)
		}
		return nil, aErrors.Transient("load_original", err).WithID(located.ID)
	}

	cfg, _, err := imageio.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, aErrors.Corrupt("load_original", err).WithID(located.ID)
	}
	if err := g.guard.Admit(ctx, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imageio.Decode(data)
	if err != nil {
		return nil, aErrors.Wrap(err, aErrors.ClassOf(err), "decode_original")
	}

	if located.Width == 0 || located.Height == 0 {
		located.Width = img.Bounds().Dx()
		located.Height = img.Bounds().Dy()
		if err := g.repo.UpdateLocatedArtwork(ctx, located); err != nil {
			g.logger.Warn("failed to record original dimensions", "located_id", located.ID, "error", err)
		}
	}
	return img, nil
}

func (g *Generator) generateOne(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork, img image.Image, profile *types.ArtworkProfile) ([]byte, error) {
	b := img.Bounds()
	cw, ch := CanvasSize(b.Dx(), b.Dy(), profile)
	if err := g.guard.Admit(ctx, cw, ch); err != nil {
		return nil, aErrors.Wrap(err, aErrors.ClassOf(err), "admit_"+profile.Name)
	}

	out := Transform(img, profile)

	data, err := imageio.EncodeBytes(out, profile.OutputFormat(located.ImageType))
	if err != nil {
		return nil, aErrors.Internal("encode", err)
	}

	name := cachekey.BuildCacheName(art, located, profile)
	dir := cachekey.ShardDir(name)
	if err := g.store.Store(ctx, storage.KindFor(art.Kind), cachekey.RelativePath(dir, name), data); err != nil {
		return nil, aErrors.Storage("store_derivative", err)
	}

	generated := &types.GeneratedArtwork{
		LocatedID:     located.ID,
		ProfileID:     profile.ID,
		CacheDir:      dir,
		CacheFilename: name,
		Status:        types.GeneratedDone,
	}
	if err := g.repo.StoreGeneratedArtwork(ctx, generated); err != nil {
		return nil, err
	}
	return data, nil
}

func (g *Generator) recordFailure(ctx context.Context, logger hclog.Logger, located *types.LocatedArtwork, profile *types.ArtworkProfile, cause error) {
	generated := &types.GeneratedArtwork{
		LocatedID: located.ID,
		ProfileID: profile.ID,
		Status:    types.GeneratedError,
		LastError: cause.Error(),
	}
	if err := g.repo.StoreGeneratedArtwork(ctx, generated); err != nil {
		logger.Error("failed to record derivative failure", "profile", profile.Name, "error", err)
	}
}

// stopsRun reports whether err ends generation for the whole located artwork
// instead of a single profile.
func stopsRun(err error) bool {
	switch aErrors.ClassOf(err) {
	case aErrors.ClassMissing, aErrors.ClassResource, aErrors.ClassCorrupt:
		return true
	}
	return false
}

// stop applies the located artwork transition for a failure that ends the
// run. Errors that are not stop conditions are returned unchanged.
func (g *Generator) stop(ctx context.Context, logger hclog.Logger, located *types.LocatedArtwork, cause error) (Result, error) {
	result := Result{Cause: cause}

	switch aErrors.ClassOf(cause) {
	case aErrors.ClassMissing:
		result.Stopped = StopMissing
		located.ClearCache()
		located.Status = types.StatusReacquire
		logger.Warn("cached original missing, scheduling reacquire", "error", cause)
	case aErrors.ClassResource:
		result.Stopped = StopResource
		located.Status = types.StatusError
		logger.Error("not enough memory to process original", "error", cause)
	case aErrors.ClassCorrupt:
		result.Stopped = StopCorrupt
		located.Status = types.StatusInvalid
		logger.Warn("cached original is corrupt", "error", cause)
	default:
		return result, cause
	}

	located.LastError = cause.Error()
	if err := g.repo.UpdateLocatedArtwork(ctx, located); err != nil {
		return result, err
	}
	return result, nil
}
