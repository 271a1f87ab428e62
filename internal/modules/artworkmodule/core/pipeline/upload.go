package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/imageio"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// UploadRequest is a manually supplied image for an artwork slot.
type UploadRequest struct {
	Kind       types.ArtworkKind
	Owner      types.Owner
	Identifier string
	Filename   string
	Data       []byte
}

func (r UploadRequest) validate() error {
	switch {
	case !r.Kind.Valid():
		return aErrors.Validation("upload", fmt.Errorf("%w: unknown artwork kind %q", aErrors.ErrInvalidInput, r.Kind))
	case !r.Owner.Kind.Valid() || r.Owner.ID <= 0:
		return aErrors.Validation("upload", fmt.Errorf("%w: invalid owner %s", aErrors.ErrInvalidInput, r.Owner))
	case len(r.Data) == 0:
		return aErrors.Validation("upload", fmt.Errorf("%w: empty upload", aErrors.ErrInvalidInput))
	case !types.IsImageExtension(r.Filename):
		return aErrors.Validation("upload", fmt.Errorf("%w: %s", aErrors.ErrUnsupportedType, filepath.Ext(r.Filename)))
	}
	return nil
}

// Upload stores an uploaded image as the active original of its artwork and
// queues derivative generation. Uploading the same filename again replaces
// the previous upload in place.
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (*types.LocatedArtwork, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	imageType, ok := imageio.Sniff(req.Data)
	if !ok {
		return nil, aErrors.Validation("upload", fmt.Errorf("%w: content of %s is not an image", aErrors.ErrUnsupportedType, req.Filename))
	}
	cfg, _, err := imageio.DecodeConfig(bytes.NewReader(req.Data))
	if err != nil {
		return nil, aErrors.Validation("upload", err)
	}

	art, err := p.repo.FindOrCreateArtwork(ctx, req.Kind, req.Owner, req.Identifier)
	if err != nil {
		return nil, err
	}

	located, err := p.uploadRow(ctx, art, cachekey.HashString(req.Filename), req.Filename)
	if err != nil {
		return nil, err
	}

	located.ImageType = imageType
	located.Width, located.Height = cfg.Width, cfg.Height

	name := cachekey.BuildCacheName(art, located, nil)
	dir := cachekey.ShardDir(name)
	if err := p.store.Store(ctx, storage.KindFor(art.Kind), cachekey.RelativePath(dir, name), req.Data); err != nil {
		storeErr := aErrors.Storage("store_upload", err).WithID(located.ID)
		located.Status = types.StatusError
		located.LastError = storeErr.Error()
		if uerr := p.repo.UpdateLocatedArtwork(ctx, located); uerr != nil {
			p.logger.Error("failed to record upload storage error", "located_id", located.ID, "error", uerr)
		}
		return nil, storeErr
	}

	located.CacheDir = dir
	located.CacheFilename = name
	located.Status = types.StatusDone
	located.LastError = ""
	if err := p.repo.UpdateLocatedArtwork(ctx, located); err != nil {
		return nil, err
	}
	if err := p.repo.ActivateLocated(ctx, located); err != nil {
		return nil, err
	}
	if err := p.setStatus(ctx, art, types.StatusUpdated); err != nil {
		return nil, err
	}

	p.logger.Info("stored uploaded artwork", "artwork_id", art.ID, "located_id", located.ID, "cache_file", name)

	if err := p.submit(ctx, art.ID); err != nil {
		return located, err
	}
	return located, nil
}

// uploadRow returns the existing upload row for the hash, moved to UPDATED,
// or creates a NEW one. Upload rows cannot be refetched, so they are flagged
// as requiring an upload once their cache is lost.
func (p *Pipeline) uploadRow(ctx context.Context, art *types.Artwork, hash, filename string) (*types.LocatedArtwork, error) {
	known, err := p.repo.ListLocated(ctx, art.ID)
	if err != nil {
		return nil, err
	}
	for i := range known {
		row := &known[i]
		if row.Source != types.SourceUpload || row.Hash != hash {
			continue
		}
		row.ClearCache()
		row.Status = types.StatusUpdated
		if err := p.repo.UpdateLocatedArtwork(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	}

	row := &types.LocatedArtwork{
		ArtworkID:      art.ID,
		Source:         types.SourceUpload,
		File:           filename,
		Hash:           hash,
		RequiresUpload: true,
		ImageType:      types.ImageTypeFromPath("", filename),
		Status:         types.StatusNew,
	}
	if err := p.repo.CreateLocated(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}
