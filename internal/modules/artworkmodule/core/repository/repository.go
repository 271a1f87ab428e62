// Package repository persists artworks, located artworks, profiles and
// generated artworks through gorm.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Models lists every table owned by the artwork module.
func Models() []interface{} {
	return []interface{}{
		&types.Artwork{},
		&types.LocatedArtwork{},
		&types.ArtworkProfile{},
		&types.GeneratedArtwork{},
		&types.OwnerRecord{},
	}
}

// Repository is the gorm backed persistence collaborator of the pipeline.
type Repository struct {
	db     *gorm.DB
	logger hclog.Logger
}

// New creates a repository.
func New(db *gorm.DB, logger hclog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.Named("artwork-repository"),
	}
}

// Migrate creates or updates the artwork tables.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate artwork tables: %w", err)
	}
	return nil
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, aErrors.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, id, err)
}

// Artworks

// GetArtwork loads an artwork by id.
func (r *Repository) GetArtwork(ctx context.Context, id int64) (*types.Artwork, error) {
	var art types.Artwork
	if err := r.db.WithContext(ctx).First(&art, id).Error; err != nil {
		return nil, notFound(err, "artwork", id)
	}
	return &art, nil
}

// FindOrCreateArtwork returns the artwork slot for (kind, owner), creating it
// with status NEW when absent.
func (r *Repository) FindOrCreateArtwork(ctx context.Context, kind types.ArtworkKind, owner types.Owner, identifier string) (*types.Artwork, error) {
	art := types.Artwork{}
	err := r.db.WithContext(ctx).
		Where(types.Artwork{Kind: kind, OwnerKind: owner.Kind, OwnerID: owner.ID}).
		Attrs(types.Artwork{OwnerIdentifier: identifier, Status: types.StatusNew}).
		FirstOrCreate(&art).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find or create artwork: %w", err)
	}

	if identifier != "" && art.OwnerIdentifier == "" {
		art.OwnerIdentifier = identifier
		if err := r.db.WithContext(ctx).Model(&art).Update("owner_identifier", identifier).Error; err != nil {
			return nil, fmt.Errorf("failed to set owner identifier: %w", err)
		}
	}
	return &art, nil
}

// UpdateArtworkStatus sets the status of an artwork.
func (r *Repository) UpdateArtworkStatus(ctx context.Context, id int64, status types.Status) error {
	result := r.db.WithContext(ctx).Model(&types.Artwork{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update artwork status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("artwork %d: %w", id, aErrors.ErrNotFound)
	}
	return nil
}

// ListPendingArtworkIDs returns ids of artworks that need work: the artwork
// itself is NEW/UPDATED or its active located row is NEW/UPDATED.
func (r *Repository) ListPendingArtworkIDs(ctx context.Context, limit int) ([]int64, error) {
	pending := []types.Status{types.StatusNew, types.StatusUpdated}

	var ids []int64
	if err := r.db.WithContext(ctx).Model(&types.Artwork{}).
		Where("status IN ?", pending).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending artworks: %w", err)
	}

	var located []int64
	if err := r.db.WithContext(ctx).Model(&types.LocatedArtwork{}).
		Where("active = ? AND status IN ?", true, pending).
		Pluck("artwork_id", &located).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending located artworks: %w", err)
	}

	seen := make(map[int64]struct{}, len(ids)+len(located))
	result := make([]int64, 0, len(ids)+len(located))
	for _, id := range append(ids, located...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Located artworks

// GetLocatedArtwork loads a located artwork by id.
func (r *Repository) GetLocatedArtwork(ctx context.Context, id int64) (*types.LocatedArtwork, error) {
	var located types.LocatedArtwork
	if err := r.db.WithContext(ctx).First(&located, id).Error; err != nil {
		return nil, notFound(err, "located artwork", id)
	}
	return &located, nil
}

// GetActiveLocated returns the active located artwork of an artwork.
func (r *Repository) GetActiveLocated(ctx context.Context, artworkID int64) (*types.LocatedArtwork, bool, error) {
	var located types.LocatedArtwork
	err := r.db.WithContext(ctx).
		Where("artwork_id = ? AND active = ?", artworkID, true).
		Order("id DESC").
		First(&located).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load active located artwork: %w", err)
	}
	return &located, true, nil
}

// ListLocated returns every located artwork of an artwork, oldest first.
func (r *Repository) ListLocated(ctx context.Context, artworkID int64) ([]types.LocatedArtwork, error) {
	var located []types.LocatedArtwork
	if err := r.db.WithContext(ctx).Where("artwork_id = ?", artworkID).Order("id").Find(&located).Error; err != nil {
		return nil, fmt.Errorf("failed to list located artworks: %w", err)
	}
	return located, nil
}

// CreateLocated inserts a located artwork.
func (r *Repository) CreateLocated(ctx context.Context, located *types.LocatedArtwork) error {
	if err := r.db.WithContext(ctx).Create(located).Error; err != nil {
		return fmt.Errorf("failed to create located artwork: %w", err)
	}
	return nil
}

// UpdateLocatedArtwork writes every field of the located artwork.
func (r *Repository) UpdateLocatedArtwork(ctx context.Context, located *types.LocatedArtwork) error {
	if err := r.db.WithContext(ctx).Save(located).Error; err != nil {
		return fmt.Errorf("failed to update located artwork %d: %w", located.ID, err)
	}
	return nil
}

// ActivateLocated makes located the only active row of its artwork.
func (r *Repository) ActivateLocated(ctx context.Context, located *types.LocatedArtwork) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.LocatedArtwork{}).
			Where("artwork_id = ? AND id <> ? AND active = ?", located.ArtworkID, located.ID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&types.LocatedArtwork{}).
			Where("id = ?", located.ID).
			Update("active", true).Error
	})
	if err != nil {
		return fmt.Errorf("failed to activate located artwork %d: %w", located.ID, err)
	}
	located.Active = true
	return nil
}

// Profiles

// ListProfiles returns all profiles ordered by kind and name.
func (r *Repository) ListProfiles(ctx context.Context) ([]types.ArtworkProfile, error) {
	var profiles []types.ArtworkProfile
	if err := r.db.WithContext(ctx).Order("kind, name").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// UpsertProfile inserts the profile keyed by (name, kind). When overwrite is
// false an existing row is left untouched. The stored row is returned.
func (r *Repository) UpsertProfile(ctx context.Context, profile *types.ArtworkProfile, overwrite bool) (*types.ArtworkProfile, error) {
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "kind"}},
		DoNothing: true,
	}
	if overwrite {
		onConflict = clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"width", "height", "scaling", "corner_quality", "rounded_corners",
				"corner_radius", "format", "pre_process", "applies_to", "updated_at",
			}),
		}
	}

	row := *profile
	row.ID = 0
	if err := r.db.WithContext(ctx).Clauses(onConflict).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert profile %s/%s: %w", profile.Kind, profile.Name, err)
	}

	var stored types.ArtworkProfile
	if err := r.db.WithContext(ctx).Where("name = ? AND kind = ?", profile.Name, profile.Kind).First(&stored).Error; err != nil {
		return nil, notFound(err, "profile", profile.Name)
	}
	return &stored, nil
}

// Generated artworks

// GetGeneratedArtwork returns the derivative of a located artwork for a profile.
func (r *Repository) GetGeneratedArtwork(ctx context.Context, locatedID, profileID int64) (*types.GeneratedArtwork, bool, error) {
	var generated types.GeneratedArtwork
	err := r.db.WithContext(ctx).
		Where("located_id = ? AND profile_id = ?", locatedID, profileID).
		First(&generated).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load generated artwork: %w", err)
	}
	return &generated, true, nil
}

// ListGenerated returns all derivatives of a located artwork.
func (r *Repository) ListGenerated(ctx context.Context, locatedID int64) ([]types.GeneratedArtwork, error) {
	var generated []types.GeneratedArtwork
	if err := r.db.WithContext(ctx).Where("located_id = ?", locatedID).Order("profile_id").Find(&generated).Error; err != nil {
		return nil, fmt.Errorf("failed to list generated artworks: %w", err)
	}
	return generated, nil
}

// StoreGeneratedArtwork upserts the derivative keyed by (located, profile),
// overwriting the previous row on regeneration.
func (r *Repository) StoreGeneratedArtwork(ctx context.Context, generated *types.GeneratedArtwork) error {
	row := *generated
	row.ID = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "located_id"}, {Name: "profile_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cache_dir", "cache_filename", "status", "last_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store generated artwork: %w", err)
	}

	stored, _, err := r.GetGeneratedArtwork(ctx, generated.LocatedID, generated.ProfileID)
	if err != nil {
		return err
	}
	if stored != nil {
		*generated = *stored
	}
	return nil
}

// Owners

// LookupOwner returns what is known about an owning entity.
func (r *Repository) LookupOwner(ctx context.Context, owner types.Owner) (*types.OwnerRecord, bool, error) {
	var rec types.OwnerRecord
	err := r.db.WithContext(ctx).Where("kind = ? AND owner_id = ?", owner.Kind, owner.ID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load owner %s: %w", owner, err)
	}
	return &rec, true, nil
}

// SaveOwner upserts an owner record keyed by (kind, owner id).
func (r *Repository) SaveOwner(ctx context.Context, rec *types.OwnerRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"identifier", "title", "year", "season", "episode", "media_path", "external_ids", "parent_id", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save owner %s: %w", rec.Owner(), err)
	}
	return nil
}
