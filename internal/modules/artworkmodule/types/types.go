// Package types defines the persistent models and shared value types of the
// artwork module.
package types

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// OwnerKind identifies the kind of library entity that owns an artwork.
type OwnerKind string

const (
	OwnerMovie   OwnerKind = "movie"
	OwnerEpisode OwnerKind = "episode"
	OwnerSeason  OwnerKind = "season"
	OwnerSeries  OwnerKind = "series"
	OwnerPerson  OwnerKind = "person"
	OwnerBoxSet  OwnerKind = "boxset"
)

// AllOwnerKinds lists every owner kind in a stable order.
var AllOwnerKinds = []OwnerKind{OwnerMovie, OwnerEpisode, OwnerSeason, OwnerSeries, OwnerPerson, OwnerBoxSet}

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	for _, known := range AllOwnerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Owner is a reference to exactly one owning entity.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   int64     `json:"id"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.ID)
}

// ArtworkKind is the role an image plays for its owner.
type ArtworkKind string

const (
	KindPoster     ArtworkKind = "poster"
	KindFanart     ArtworkKind = "fanart"
	KindBanner     ArtworkKind = "banner"
	KindVideoImage ArtworkKind = "videoimage"
	KindPhoto      ArtworkKind = "photo"
)

// AllArtworkKinds lists every artwork kind in a stable order.
var AllArtworkKinds = []ArtworkKind{KindPoster, KindFanart, KindBanner, KindVideoImage, KindPhoto}

// Valid reports whether k is a known artwork kind.
func (k ArtworkKind) Valid() bool {
	for _, known := range AllArtworkKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseArtworkKind converts user input into an ArtworkKind. "still" is
// accepted as an alias of videoimage.
func ParseArtworkKind(s string) (ArtworkKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "still" {
		return KindVideoImage, true
	}
	k := ArtworkKind(s)
	return k, k.Valid()
}

// Status is the processing state shared by artworks and located artworks.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusUpdated Status = "UPDATED"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
	StatusInvalid Status = "INVALID"
	StatusMissing Status = "MISSING"
	StatusIgnore  Status = "IGNORE"
)

// StatusReacquire is the state a located artwork returns to when its cached
// original disappeared and has to be fetched again.
const StatusReacquire = StatusUpdated

// Pending reports whether the status asks for (re)processing.
func (s Status) Pending() bool {
	return s == StatusNew || s == StatusUpdated
}

// Rejected reports whether the status marks a known-bad source.
func (s Status) Rejected() bool {
	return s == StatusInvalid || s == StatusIgnore
}

// Artwork is the logical slot "<kind> of <owner>".
type Artwork struct {
	ID              int64       `gorm:"primaryKey" json:"id"`
	Kind            ArtworkKind `gorm:"not null;uniqueIndex:idx_artwork_owner_kind" json:"kind"`
	OwnerKind       OwnerKind   `gorm:"not null;uniqueIndex:idx_artwork_owner_kind" json:"owner_kind"`
	OwnerID         int64       `gorm:"not null;uniqueIndex:idx_artwork_owner_kind" json:"owner_id"`
	OwnerIdentifier string      `json:"owner_identifier,omitempty"`
	Status          Status      `gorm:"not null;index" json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (Artwork) TableName() string { return "artworks" }

// Owner returns the owning entity reference.
func (a *Artwork) Owner() Owner {
	return Owner{Kind: a.OwnerKind, ID: a.OwnerID}
}

// Identifier returns the owner identifier used in cache names.
func (a *Artwork) Identifier() string {
	if a.OwnerIdentifier != "" {
		return a.OwnerIdentifier
	}
	return fmt.Sprintf("%d", a.OwnerID)
}

// BeforeCreate defaults the status of new artworks.
func (a *Artwork) BeforeCreate(tx *gorm.DB) error {
	if a.Status == "" {
		a.Status = StatusNew
	}
	return nil
}

// LocatedArtwork is one concrete candidate image for an Artwork.
type LocatedArtwork struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ArtworkID      int64     `gorm:"not null;index" json:"artwork_id"`
	Source         string    `gorm:"not null;index" json:"source"`
	URL            string    `json:"url,omitempty"`
	File           string    `json:"file,omitempty"`
	Hash           string    `gorm:"index" json:"hash,omitempty"`
	Priority       int       `json:"priority"`
	Rating         int       `json:"rating"`
	Language       string    `json:"language,omitempty"`
	RequiresUpload bool      `json:"requires_upload"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	ImageType      string    `json:"image_type,omitempty"`
	CacheDir       string    `json:"cache_dir,omitempty"`
	CacheFilename  string    `json:"cache_filename,omitempty"`
	Status         Status    `gorm:"not null;index" json:"status"`
	Active         bool      `gorm:"not null;default:false;index" json:"active"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (LocatedArtwork) TableName() string { return "located_artworks" }

// BeforeCreate defaults the status and derives the image type.
func (l *LocatedArtwork) BeforeCreate(tx *gorm.DB) error {
	if l.Status == "" {
		l.Status = StatusNew
	}
	if l.ImageType == "" {
		l.ImageType = ImageTypeFromPath(l.URL, l.File)
	}
	return nil
}

// HasCache reports whether the original has been stored.
func (l *LocatedArtwork) HasCache() bool {
	return l.CacheFilename != ""
}

// ClearCache forgets the cached original.
func (l *LocatedArtwork) ClearCache() {
	l.CacheDir = ""
	l.CacheFilename = ""
}

// Matches reports whether the candidate points at the same image.
func (l *LocatedArtwork) Matches(c Candidate) bool {
	if l.Source != c.Source {
		return false
	}
	if c.Hash != "" && l.Hash == c.Hash {
		return true
	}
	return (c.URL != "" && l.URL == c.URL) || (c.File != "" && l.File == c.File)
}

// ScalingPolicy selects how a profile transforms the original.
type ScalingPolicy string

const (
	ScaleNormalize ScalingPolicy = "NORMALIZE"
	ScaleStretch   ScalingPolicy = "STRETCH"
	ScaleFit       ScalingPolicy = "SCALE"
)

// ParseScalingPolicy maps config values onto a policy, defaulting to SCALE.
func ParseScalingPolicy(s string) ScalingPolicy {
	switch ScalingPolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case ScaleNormalize:
		return ScaleNormalize
	case ScaleStretch:
		return ScaleStretch
	default:
		return ScaleFit
	}
}

// OwnerMask is a bit set over owner kinds.
type OwnerMask uint8

// MaskOf builds a mask from owner kinds.
func MaskOf(kinds ...OwnerKind) OwnerMask {
	var m OwnerMask
	for _, k := range kinds {
		for i, known := range AllOwnerKinds {
			if k == known {
				m |= 1 << uint(i)
			}
		}
	}
	return m
}

// Has reports whether kind is part of the mask.
func (m OwnerMask) Has(kind OwnerKind) bool {
	return m&MaskOf(kind) != 0
}

// ArtworkProfile is a named derivative recipe.
type ArtworkProfile struct {
	ID             int64         `gorm:"primaryKey" json:"id"`
	Name           string        `gorm:"not null;uniqueIndex:idx_profile_name_kind" json:"name"`
	Kind           ArtworkKind   `gorm:"not null;uniqueIndex:idx_profile_name_kind" json:"kind"`
	Width          int           `gorm:"not null" json:"width"`
	Height         int           `gorm:"not null" json:"height"`
	Scaling        ScalingPolicy `gorm:"not null" json:"scaling"`
	CornerQuality  float64       `gorm:"not null;default:1" json:"corner_quality"`
	RoundedCorners bool          `json:"rounded_corners"`
	CornerRadius   int           `json:"corner_radius"`
	Format         string        `json:"format,omitempty"`
	PreProcess     bool          `json:"pre_process"`
	AppliesTo      OwnerMask     `gorm:"not null" json:"applies_to"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (ArtworkProfile) TableName() string { return "artwork_profiles" }

// Ratio is the target aspect ratio.
func (p *ArtworkProfile) Ratio() float64 {
	if p.Height == 0 {
		return 0
	}
	return float64(p.Width) / float64(p.Height)
}

// QualityFactor returns the oversampling factor used around corner rounding.
func (p *ArtworkProfile) QualityFactor() float64 {
	if !p.RoundedCorners || p.CornerQuality < 1 {
		return 1
	}
	return p.CornerQuality
}

// OutputFormat resolves the encoded format for a given original type.
func (p *ArtworkProfile) OutputFormat(originalType string) string {
	if p.RoundedCorners {
		return "png"
	}
	if p.Format != "" {
		return NormalizeImageType(p.Format)
	}
	if originalType == "" {
		return DefaultImageType
	}
	return originalType
}

// GeneratedStatus is the outcome of one derivative.
type GeneratedStatus string

const (
	GeneratedDone  GeneratedStatus = "DONE"
	GeneratedError GeneratedStatus = "ERROR"
)

// GeneratedArtwork is the result of applying a profile to a located artwork.
type GeneratedArtwork struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	LocatedID     int64           `gorm:"not null;uniqueIndex:idx_generated_located_profile" json:"located_id"`
	ProfileID     int64           `gorm:"not null;uniqueIndex:idx_generated_located_profile" json:"profile_id"`
	CacheDir      string          `json:"cache_dir,omitempty"`
	CacheFilename string          `json:"cache_filename,omitempty"`
	Status        GeneratedStatus `gorm:"not null" json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (GeneratedArtwork) TableName() string { return "generated_artworks" }

// OwnerRecord carries what providers need to know about an owning entity.
type OwnerRecord struct {
	ID          int64             `gorm:"primaryKey" json:"id"`
	Kind        OwnerKind         `gorm:"not null;uniqueIndex:idx_owner_kind_id" json:"kind"`
	OwnerID     int64             `gorm:"not null;uniqueIndex:idx_owner_kind_id" json:"owner_id"`
	Identifier  string            `json:"identifier,omitempty"`
	Title       string            `json:"title,omitempty"`
	Year        int               `json:"year,omitempty"`
	Season      int               `json:"season,omitempty"`
	Episode     int               `json:"episode,omitempty"`
	MediaPath   string            `json:"media_path,omitempty"`
	ExternalIDs map[string]string `gorm:"serializer:json" json:"external_ids,omitempty"`
	ParentID    int64             `json:"parent_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (OwnerRecord) TableName() string { return "artwork_owners" }

// Owner returns the owner reference of the record.
func (o *OwnerRecord) Owner() Owner {
	return Owner{Kind: o.Kind, ID: o.OwnerID}
}

// ExternalID returns a provider id such as "tmdb" or "tvdb".
func (o *OwnerRecord) ExternalID(provider string) string {
	if o == nil || o.ExternalIDs == nil {
		return ""
	}
	return o.ExternalIDs[provider]
}

// Candidate is a provider or finder result before it is persisted.
type Candidate struct {
	Source         string `json:"source"`
	URL            string `json:"url,omitempty"`
	File           string `json:"file,omitempty"`
	Hash           string `json:"hash,omitempty"`
	Rating         int    `json:"rating,omitempty"`
	Language       string `json:"language,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	RequiresUpload bool   `json:"requires_upload,omitempty"`
}

// WellFormed reports whether the candidate points somewhere usable.
func (c Candidate) WellFormed() bool {
	if c.Source == "" {
		return false
	}
	if c.URL == "" && c.File == "" {
		return false
	}
	if c.URL != "" && !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return false
	}
	return true
}

// Located converts the candidate into a new located artwork row.
func (c Candidate) Located(artworkID int64) *LocatedArtwork {
	return &LocatedArtwork{
		ArtworkID:      artworkID,
		Source:         c.Source,
		URL:            c.URL,
		File:           c.File,
		Hash:           c.Hash,
		Priority:       c.Priority,
		Rating:         c.Rating,
		Language:       c.Language,
		Width:          c.Width,
		Height:         c.Height,
		RequiresUpload: c.RequiresUpload,
		ImageType:      ImageTypeFromPath(c.URL, c.File),
		Status:         StatusNew,
	}
}
