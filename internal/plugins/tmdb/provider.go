// Package tmdb provides artwork candidates from The Movie Database.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Name is the provider name used in source ordering.
const Name = "tmdb"

const (
	defaultBaseURL      = "https://api.themoviedb.org/3"
	defaultImageBaseURL = "https://image.tmdb.org/t/p/original"
)

var errNotFound = errors.New("not found on tmdb")

// Config configures the provider.
type Config struct {
	APIKey       string        `yaml:"api_key" json:"api_key"`
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	ImageBaseURL string        `yaml:"image_base_url" json:"image_base_url"`
	Language     string        `yaml:"language" json:"language"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	RequestDelay time.Duration `yaml:"request_delay" json:"request_delay"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
}

// Provider looks up posters, backdrops, stills and profile photos.
type Provider struct {
	config     Config
	httpClient *http.Client
	logger     hclog.Logger

	mu       sync.Mutex
	nextSlot time.Time
}

// New creates a provider. A nil client gets one with the configured timeout.
func New(cfg Config, client *http.Client, logger hclog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = defaultImageBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Viewra-Artwork/1.0"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		config:     cfg,
		httpClient: client,
		logger:     logger.Named("tmdb-provider"),
	}
}

func (p *Provider) Name() string { return Name }

type imagesResponse struct {
	ID        int         `json:"id"`
	Backdrops []imageInfo `json:"backdrops"`
	Posters   []imageInfo `json:"posters"`
	Stills    []imageInfo `json:"stills"`
	Profiles  []imageInfo `json:"profiles"`
}

type imageInfo struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	ISO639_1    string  `json:"iso_639_1"`
}

// Posters returns posters of movies, series, seasons and collections.
func (p *Provider) Posters(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	path, ok := p.imagesPath(owner)
	if !ok || owner.Kind == types.OwnerEpisode || owner.Kind == types.OwnerPerson {
		return nil, nil
	}
	resp, err := p.images(ctx, path)
	if err != nil || resp == nil {
		return nil, err
	}
	return p.candidates(resp.Posters), nil
}

// Fanarts returns backdrops of movies, series and collections.
func (p *Provider) Fanarts(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	switch owner.Kind {
	case types.OwnerMovie, types.OwnerSeries, types.OwnerBoxSet:
	default:
		return nil, nil
	}
	path, ok := p.imagesPath(owner)
	if !ok {
		return nil, nil
	}
	resp, err := p.images(ctx, path)
	if err != nil || resp == nil {
		return nil, err
	}
	return p.candidates(resp.Backdrops), nil
}

// VideoImages returns episode stills.
func (p *Provider) VideoImages(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	if owner.Kind != types.OwnerEpisode {
		return nil, nil
	}
	path, ok := p.imagesPath(owner)
	if !ok {
		return nil, nil
	}
	resp, err := p.images(ctx, path)
	if err != nil || resp == nil {
		return nil, err
	}
	return p.candidates(resp.Stills), nil
}

// Photos returns profile pictures of people.
func (p *Provider) Photos(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	if owner.Kind != types.OwnerPerson {
		return nil, nil
	}
	path, ok := p.imagesPath(owner)
	if !ok {
		return nil, nil
	}
	resp, err := p.images(ctx, path)
	if err != nil || resp == nil {
		return nil, err
	}
	return p.candidates(resp.Profiles), nil
}

// imagesPath returns the images endpoint of the owner. Seasons and episodes
// use the id of their series.
func (p *Provider) imagesPath(owner *types.OwnerRecord) (string, bool) {
	id := owner.ExternalID("tmdb")
	seriesID := owner.ExternalID("tmdb_series")
	if seriesID == "" {
		seriesID = id
	}

	switch owner.Kind {
	case types.OwnerMovie:
		return fmt.Sprintf("/movie/%s/images", id), id != ""
	case types.OwnerSeries:
		return fmt.Sprintf("/tv/%s/images", id), id != ""
	case types.OwnerSeason:
		return fmt.Sprintf("/tv/%s/season/%d/images", seriesID, owner.Season), seriesID != ""
	case types.OwnerEpisode:
		return fmt.Sprintf("/tv/%s/season/%d/episode/%d/images", seriesID, owner.Season, owner.Episode), seriesID != ""
	case types.OwnerBoxSet:
		return fmt.Sprintf("/collection/%s/images", id), id != ""
	case types.OwnerPerson:
		return fmt.Sprintf("/person/%s/images", id), id != ""
	}
	return "", false
}

// candidates orders images by language preference, then by rating.
func (p *Provider) candidates(images []imageInfo) []types.Candidate {
	sorted := make([]imageInfo, 0, len(images))
	for _, img := range images {
		if img.FilePath != "" {
			sorted = append(sorted, img)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		li, lj := p.languageRank(sorted[i].ISO639_1), p.languageRank(sorted[j].ISO639_1)
		if li != lj {
			return li < lj
		}
		return sorted[i].VoteAverage > sorted[j].VoteAverage
	})

	out := make([]types.Candidate, 0, len(sorted))
	for _, img := range sorted {
		out = append(out, types.Candidate{
			Source:   Name,
			URL:      strings.TrimRight(p.config.ImageBaseURL, "/") + img.FilePath,
			Rating:   int(img.VoteAverage * 10),
			Language: img.ISO639_1,
			Width:    img.Width,
			Height:   img.Height,
		})
	}
	return out
}

func (p *Provider) languageRank(lang string) int {
	switch lang {
	case p.config.Language:
		return 0
	case "":
		return 1
	}
	return 2
}

// images fetches an images endpoint. An unknown id yields nil without error.
func (p *Provider) images(ctx context.Context, path string) (*imagesResponse, error) {
	var resp imagesResponse
	if err := p.makeRequest(ctx, path, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			p.logger.Debug("no images on tmdb", "path", path)
			return nil, nil
		}
		return nil, err
	}
	return &resp, nil
}

// makeRequest performs a GET against the API with request spacing.
func (p *Provider) makeRequest(ctx context.Context, path string, result interface{}) error {
	if err := p.throttle(ctx); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("include_image_language", p.config.Language+",null")
	if !isJWTToken(p.config.APIKey) {
		query.Set("api_key", p.config.APIKey)
	}
	reqURL := strings.TrimRight(p.config.BaseURL, "/") + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if isJWTToken(p.config.APIKey) {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	req.Header.Set("User-Agent", p.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("TMDb API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}
	return nil
}

// throttle reserves the next request slot under the lock and waits for it
// outside, so concurrent callers queue up RequestDelay apart.
func (p *Provider) throttle(ctx context.Context) error {
	if p.config.RequestDelay <= 0 {
		return nil
	}
	p.mu.Lock()
	now := time.Now()
	slot := p.nextSlot
	if slot.Before(now) {
		slot = now
	}
	p.nextSlot = slot.Add(p.config.RequestDelay)
	p.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isJWTToken checks if the API key is a v4 read access token
func isJWTToken(apiKey string) bool {
	return len(apiKey) > 100 && strings.HasPrefix(apiKey, "eyJ")
}
