// Package pipeline drives one artwork from candidate resolution through
// acquisition to derivative generation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/acquire"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/derive"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/source"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// DefaultMaxCandidates bounds how many candidates one Process call tries
// after rejections.
const DefaultMaxCandidates = 5

// Repository is the persistence needed by the pipeline.
type Repository interface {
	GetArtwork(ctx context.Context, id int64) (*types.Artwork, error)
	FindOrCreateArtwork(ctx context.Context, kind types.ArtworkKind, owner types.Owner, identifier string) (*types.Artwork, error)
	UpdateArtworkStatus(ctx context.Context, id int64, status types.Status) error
	GetActiveLocated(ctx context.Context, artworkID int64) (*types.LocatedArtwork, bool, error)
	ListLocated(ctx context.Context, artworkID int64) ([]types.LocatedArtwork, error)
	CreateLocated(ctx context.Context, located *types.LocatedArtwork) error
	UpdateLocatedArtwork(ctx context.Context, located *types.LocatedArtwork) error
	ActivateLocated(ctx context.Context, located *types.LocatedArtwork) error
	ListGenerated(ctx context.Context, locatedID int64) ([]types.GeneratedArtwork, error)
	LookupOwner(ctx context.Context, owner types.Owner) (*types.OwnerRecord, bool, error)
}

// Resolver finds a candidate image for an artwork.
type Resolver interface {
	Resolve(ctx context.Context, art *types.Artwork, owner *types.OwnerRecord, skip source.SkipFunc) (types.Candidate, bool, error)
}

// Acquirer stores the original of a located artwork.
type Acquirer interface {
	Acquire(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork) (acquire.Outcome, error)
}

// Generator produces the pre-process derivatives.
type Generator interface {
	Generate(ctx context.Context, art *types.Artwork, located *types.LocatedArtwork) (derive.Result, error)
}

// Submitter hands an artwork id to the work queue.
type Submitter interface {
	Submit(ctx context.Context, artworkID int64) error
}

// Config holds the pipeline dependencies.
type Config struct {
	Repository    Repository
	Resolver      Resolver
	Acquirer      Acquirer
	Generator     Generator
	Store         storage.ContentStore
	MaxCandidates int
	Logger        hclog.Logger
}

// Pipeline processes artworks.
type Pipeline struct {
	repo          Repository
	resolver      Resolver
	acquirer      Acquirer
	generator     Generator
	store         storage.ContentStore
	submitter     Submitter
	maxCandidates int
	logger        hclog.Logger
}

// New creates a pipeline. A submitter must be attached with SetSubmitter
// before Upload or Requeue are used.
func New(cfg Config) *Pipeline {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Pipeline{
		repo:          cfg.Repository,
		resolver:      cfg.Resolver,
		acquirer:      cfg.Acquirer,
		generator:     cfg.Generator,
		store:         cfg.Store,
		maxCandidates: cfg.MaxCandidates,
		logger:        cfg.Logger.Named("artwork-pipeline"),
	}
}

// SetSubmitter attaches the work queue. The queue itself calls back into
// Process, so it is wired after construction.
func (p *Pipeline) SetSubmitter(s Submitter) {
	p.submitter = s
}

// Process runs one artwork through resolve, acquire and generate. Transient
// failures are returned without any state change so the item can be retried.
func (p *Pipeline) Process(ctx context.Context, artworkID int64) error {
	art, err := p.repo.GetArtwork(ctx, artworkID)
	if err != nil {
		return err
	}

	logger := p.logger.With("artwork_id", art.ID, "kind", art.Kind, "owner", art.Owner().String(), "run_id", uuid.NewString())
	logger.Debug("processing artwork")

	for attempt := 0; attempt < p.maxCandidates; attempt++ {
		located, found, err := p.current(ctx, logger, art)
		if err != nil {
			return err
		}
		if !found {
			logger.Info("no artwork candidate found")
			return p.setStatus(ctx, art, types.StatusMissing)
		}

		outcome, err := p.acquirer.Acquire(ctx, art, located)
		switch outcome {
		case acquire.OutcomeInvalid:
			if err != nil {
				return err
			}
			logger.Debug("candidate rejected, trying next", "located_id", located.ID)
			continue
		case acquire.OutcomeRetry:
			return err
		case acquire.OutcomeError:
			if serr := p.setStatus(ctx, art, types.StatusError); serr != nil {
				logger.Error("failed to mark artwork as errored", "error", serr)
			}
			return err
		}
		if err != nil {
			return err
		}

		switch located.Status {
		case types.StatusDone:
			return p.generate(ctx, logger, art, located)
		case types.StatusError:
			// terminal until Requeue resets the row
			logger.Info("active artwork is in error state", "located_id", located.ID, "last_error", located.LastError)
			return p.setStatus(ctx, art, types.StatusError)
		default:
			return p.setStatus(ctx, art, types.StatusUpdated)
		}
	}

	logger.Warn("no acceptable candidate after retries", "attempts", p.maxCandidates)
	return p.setStatus(ctx, art, types.StatusMissing)
}

func (p *Pipeline) generate(ctx context.Context, logger hclog.Logger, art *types.Artwork, located *types.LocatedArtwork) error {
	result, err := p.generator.Generate(ctx, art, located)
	if err != nil {
		return err
	}

	switch result.Stopped {
	case derive.StopMissing, derive.StopCorrupt:
		// the located row moved back to UPDATED or INVALID; the next run
		// reacquires or resolves a replacement
		logger.Info("derivative generation stopped, artwork needs another run", "reason", result.Stopped)
		return p.setStatus(ctx, art, types.StatusUpdated)
	case derive.StopResource:
		return p.setStatus(ctx, art, types.StatusError)
	}

	logger.Info("artwork processed", "located_id", located.ID, "generated", result.Generated, "failed", result.Failed)
	return p.setStatus(ctx, art, types.StatusDone)
}

// current returns the located artwork to work on: the active row unless it
// was rejected, otherwise a freshly resolved candidate that becomes active.
func (p *Pipeline) current(ctx context.Context, logger hclog.Logger, art *types.Artwork) (*types.LocatedArtwork, bool, error) {
	active, found, err := p.repo.GetActiveLocated(ctx, art.ID)
	if err != nil {
		return nil, false, err
	}
	if found && !active.Status.Rejected() {
		return active, true, nil
	}

	known, err := p.repo.ListLocated(ctx, art.ID)
	if err != nil {
		return nil, false, err
	}
	skip := func(c types.Candidate) bool {
		for i := range known {
			if known[i].Status.Rejected() && known[i].Matches(c) {
				return true
			}
		}
		return false
	}

	owner, _, err := p.repo.LookupOwner(ctx, art.Owner())
	if err != nil {
		return nil, false, err
	}

	candidate, ok, err := p.resolver.Resolve(ctx, art, owner, skip)
	if err != nil || !ok {
		return nil, false, err
	}

	// a previously seen, non-rejected row is reused instead of duplicated
	var located *types.LocatedArtwork
	for i := range known {
		if known[i].Matches(candidate) {
			located = &known[i]
			break
		}
	}
	if located == nil {
		located = candidate.Located(art.ID)
		if err := p.repo.CreateLocated(ctx, located); err != nil {
			return nil, false, err
		}
		logger.Debug("new located artwork", "located_id", located.ID, "source", located.Source)
	}

	if err := p.repo.ActivateLocated(ctx, located); err != nil {
		return nil, false, err
	}
	return located, true, nil
}

func (p *Pipeline) setStatus(ctx context.Context, art *types.Artwork, status types.Status) error {
	if art.Status == status {
		return nil
	}
	if err := p.repo.UpdateArtworkStatus(ctx, art.ID, status); err != nil {
		return err
	}
	art.Status = status
	return nil
}

// Requeue resubmits an existing artwork for processing. An active located
// artwork in ERROR is reset first: back to DONE when its original is still
// cached so derivatives are regenerated, otherwise to UPDATED so the original
// is acquired again.
func (p *Pipeline) Requeue(ctx context.Context, artworkID int64) error {
	art, err := p.repo.GetArtwork(ctx, artworkID)
	if err != nil {
		return err
	}

	active, found, err := p.repo.GetActiveLocated(ctx, art.ID)
	if err != nil {
		return err
	}
	if found && active.Status == types.StatusError {
		if active.HasCache() {
			active.Status = types.StatusDone
		} else {
			active.Status = types.StatusReacquire
		}
		active.LastError = ""
		if err := p.repo.UpdateLocatedArtwork(ctx, active); err != nil {
			return err
		}
	}
	if art.Status == types.StatusError || art.Status == types.StatusDone {
		if err := p.setStatus(ctx, art, types.StatusUpdated); err != nil {
			return err
		}
	}
	return p.submit(ctx, artworkID)
}

// Enqueue returns the artwork slot for (kind, owner), creating it when
// needed, and submits it for processing.
func (p *Pipeline) Enqueue(ctx context.Context, kind types.ArtworkKind, owner types.Owner, identifier string) (*types.Artwork, error) {
	if !kind.Valid() || !owner.Kind.Valid() || owner.ID <= 0 {
		return nil, aErrors.Validation("enqueue", fmt.Errorf("%w: %s of %s", aErrors.ErrInvalidInput, kind, owner))
	}
	art, err := p.repo.FindOrCreateArtwork(ctx, kind, owner, identifier)
	if err != nil {
		return nil, err
	}
	return art, p.submit(ctx, art.ID)
}

// MarkError records an uncaught failure on the artwork.
func (p *Pipeline) MarkError(ctx context.Context, artworkID int64, cause error) error {
	if err := p.repo.UpdateArtworkStatus(ctx, artworkID, types.StatusError); err != nil {
		return err
	}
	p.logger.Warn("artwork marked as errored", "artwork_id", artworkID, "error", cause)
	return nil
}

func (p *Pipeline) submit(ctx context.Context, artworkID int64) error {
	if p.submitter == nil {
		return aErrors.Internal("submit", fmt.Errorf("no work queue attached")).WithID(artworkID)
	}
	return p.submitter.Submit(ctx, artworkID)
}

// View is the state of an artwork as shown to the control plane.
type View struct {
	Artwork   *types.Artwork           `json:"artwork"`
	Active    *types.LocatedArtwork    `json:"active,omitempty"`
	Generated []types.GeneratedArtwork `json:"generated,omitempty"`
}

// Describe returns the artwork, its active located row and its derivatives.
func (p *Pipeline) Describe(ctx context.Context, artworkID int64) (*View, error) {
	art, err := p.repo.GetArtwork(ctx, artworkID)
	if err != nil {
		return nil, err
	}
	view := &View{Artwork: art}

	active, found, err := p.repo.GetActiveLocated(ctx, art.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return view, nil
	}
	view.Active = active

	view.Generated, err = p.repo.ListGenerated(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	return view, nil
}
