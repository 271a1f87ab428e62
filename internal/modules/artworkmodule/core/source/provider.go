// Package source finds candidate images for an artwork: local files first,
// then online providers in priority order.
package source

import (
	"context"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Provider is the base interface of every artwork provider. A provider joins
// the pipeline by implementing one or more of the capability interfaces below.
type Provider interface {
	Name() string
}

// PosterScanner supplies posters.
type PosterScanner interface {
	Provider
	Posters(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)
}

// FanartScanner supplies fanart backdrops.
type FanartScanner interface {
	Provider
	Fanarts(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)
}

// BannerScanner supplies banners.
type BannerScanner interface {
	Provider
	Banners(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)
}

// VideoImageScanner supplies episode stills.
type VideoImageScanner interface {
	Provider
	VideoImages(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)
}

// PhotoScanner supplies person photos.
type PhotoScanner interface {
	Provider
	Photos(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)
}

// OwnerFilter is implemented by providers that only serve some owner kinds.
type OwnerFilter interface {
	Supports(kind types.OwnerKind) bool
}

// LookupFunc fetches candidates for one owner.
type LookupFunc func(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error)

// lookupFor returns the capability of p for an artwork kind.
func lookupFor(p Provider, kind types.ArtworkKind) (LookupFunc, bool) {
	switch kind {
	case types.KindPoster:
		if s, ok := p.(PosterScanner); ok {
			return s.Posters, true
		}
	case types.KindFanart:
		if s, ok := p.(FanartScanner); ok {
			return s.Fanarts, true
		}
	case types.KindBanner:
		if s, ok := p.(BannerScanner); ok {
			return s.Banners, true
		}
	case types.KindVideoImage:
		if s, ok := p.(VideoImageScanner); ok {
			return s.VideoImages, true
		}
	case types.KindPhoto:
		if s, ok := p.(PhotoScanner); ok {
			return s.Photos, true
		}
	}
	return nil, false
}

// LocalFinder looks for an image next to the owner's media on disk.
type LocalFinder interface {
	Name() string
	Find(ctx context.Context, kind types.ArtworkKind, owner *types.OwnerRecord) (types.Candidate, bool, error)
}
