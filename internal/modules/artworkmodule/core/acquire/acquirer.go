// Package acquire validates a located artwork and stores its original in the
// content cache.
package acquire

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/imageio"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Outcome is the result of one acquisition attempt.
type Outcome string

const (
	// OutcomeSkipped means the original was already cached; nothing was done
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDone means the original is stored and the row is DONE
	OutcomeDone Outcome = "done"
	// OutcomeInvalid means the candidate was rejected and marked INVALID
	OutcomeInvalid Outcome = "invalid"
	// OutcomeError means storing failed and the row is ERROR
	OutcomeError Outcome = "error"
	// OutcomeRetry means a transient failure; the row was left unchanged
	OutcomeRetry Outcome = "retry"
)

// LocatedUpdater persists located artwork changes.
type LocatedUpdater interface {
	UpdateLocatedArtwork(ctx context.Context, located *types.LocatedArtwork) error
}

// Acquirer runs quality checks, fetches and stores originals.
type Acquirer struct {
	fetcher      Fetcher
	store        storage.ContentStore
	repo         LocatedUpdater
	minDimension int
	logger       hclog.Logger
}

// NewAcquirer creates an acquirer. Images narrower or shorter than
// minDimension pixels are rejected.
func NewAcquirer(fetcher Fetcher, store storage.ContentStore, repo LocatedUpdater, minDimension int, logger hclog.Logger) *Acquirer {
	if minDimension < 1 {
		minDimension = 1
	}
	return &Acquirer{
		fetcher:      fetcher,
		store:        store,
		repo:         repo,
		minDimension: minDimension,
		logger:       logger.Named("acquirer"),
	}
}

// Acquire stores the original of located. It does nothing when the row
// already has a cache filename.
func (a *Acquirer) Acquire(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork) (Outcome, error) {
	if located.HasCache() {
		return OutcomeSkipped, nil
	}

	logger := a.logger.With("artwork_id", art.ID, "located_id", located.ID, "source", located.Source)

	if located.RequiresUpload {
		return a.reject(ctx, located, aErrors.Quality("quality_check", aErrors.ErrUploadRequired))
	}

	if located.URL != "" {
		dims, err := a.fetcher.Probe(ctx, located.URL)
		if err != nil {
			return a.failFetch(ctx, logger, located, err)
		}
		if dims.Known() {
			if err := a.checkDimensions(dims); err != nil {
				return a.reject(ctx, located, err)
			}
			located.Width, located.Height = dims.Width, dims.Height
		} else {
			logger.Debug("dimensions not in probe window, reading full image")
		}
	}

	data, err := a.fetcher.Fetch(ctx, located)
	if err != nil {
		return a.failFetch(ctx, logger, located, err)
	}

	imageType, ok := imageio.Sniff(data)
	if !ok {
		return a.reject(ctx, located, aErrors.Corrupt("sniff", aErrors.ErrCorruptImage))
	}
	located.ImageType = imageType

	if located.Width == 0 || located.Height == 0 {
		dims, err := readDimensions(data)
		if err != nil {
			return a.reject(ctx, located, aErrors.Corrupt("read_dimensions", err))
		}
		if err := a.checkDimensions(dims); err != nil {
			return a.reject(ctx, located, err)
		}
		located.Width, located.Height = dims.Width, dims.Height
	}

	name := cachekey.BuildCacheName(art, located, nil)
	dir := cachekey.ShardDir(name)

	if err := a.store.Store(ctx, storage.KindFor(art.Kind), cachekey.RelativePath(dir, name), data); err != nil {
		storeErr := aErrors.Storage("store_original", err).WithID(located.ID)
		located.Status = types.StatusError
		located.LastError = storeErr.Error()
		if uerr := a.repo.UpdateLocatedArtwork(ctx, located); uerr != nil {
			logger.Error("failed to record storage error", "error", uerr)
		}
		logger.Error("failed to store original", "error", err)
		return OutcomeError, storeErr
	}

	located.CacheDir = dir
	located.CacheFilename = name
	located.Status = types.StatusDone
	located.LastError = ""
	if err := a.repo.UpdateLocatedArtwork(ctx, located); err != nil {
		return OutcomeError, err
	}

	logger.Info("stored original", "cache_file", name, "width", located.Width, "height", located.Height)
	return OutcomeDone, nil
}

func (a *Acquirer) checkDimensions(dims Dimensions) error {
	if dims.Width < a.minDimension || dims.Height < a.minDimension {
		return aErrors.Quality("quality_check", fmt.Errorf("%w: %dx%d", aErrors.ErrDegenerateImage, dims.Width, dims.Height))
	}
	return nil
}

// failFetch leaves the row untouched for transient errors and rejects it
// otherwise.
func (a *Acquirer) failFetch(ctx context.Context, logger hclog.Logger, located *types.LocatedArtwork, err error) (Outcome, error) {
	if aErrors.IsTransient(err) {
		logger.Warn("transient fetch failure, will retry", "error", err)
		return OutcomeRetry, err
	}
	return a.reject(ctx, located, err)
}

func (a *Acquirer) reject(ctx context.Context, located *types.LocatedArtwork, cause error) (Outcome, error) {
	located.Status = types.StatusInvalid
	located.LastError = cause.Error()
	if err := a.repo.UpdateLocatedArtwork(ctx, located); err != nil {
		return OutcomeInvalid, err
	}
	a.logger.Info("rejected candidate", "located_id", located.ID, "source", located.Source, "reason", cause)
	return OutcomeInvalid, nil
}
