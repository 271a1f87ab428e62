// Package fanarttv provides artwork candidates from fanart.tv.
package fanarttv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Name is the provider name used in source ordering.
const Name = "fanarttv"

const defaultBaseURL = "https://webservice.fanart.tv/v3"

// Config configures the provider.
type Config struct {
	APIKey   string        `yaml:"api_key" json:"api_key"`
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Language string        `yaml:"language" json:"language"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Provider looks up posters, backgrounds and banners. Movies are keyed by
// their TMDb id, series and seasons by their TVDB id.
type Provider struct {
	config Config
	client *http.Client
	logger hclog.Logger
}

// New creates a provider. A nil client gets one with the configured timeout.
func New(cfg Config, client *http.Client, logger hclog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{config: cfg, client: client, logger: logger.Named("fanarttv-provider")}
}

func (p *Provider) Name() string { return Name }

// Supports limits the provider to the owners fanart.tv knows about.
func (p *Provider) Supports(kind types.OwnerKind) bool {
	switch kind {
	case types.OwnerMovie, types.OwnerSeries, types.OwnerSeason:
		return true
	}
	return false
}

type fanartImage struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Likes  string `json:"likes"`
	Lang   string `json:"lang"`
	Season string `json:"season"`
}

type movieResponse struct {
	Posters     []fanartImage `json:"movieposter"`
	Backgrounds []fanartImage `json:"moviebackground"`
	Banners     []fanartImage `json:"moviebanner"`
}

type tvResponse struct {
	Posters       []fanartImage `json:"tvposter"`
	Backgrounds   []fanartImage `json:"showbackground"`
	Banners       []fanartImage `json:"tvbanner"`
	SeasonPosters []fanartImage `json:"seasonposter"`
	SeasonBanners []fanartImage `json:"seasonbanner"`
}

// Posters returns movie, series and season posters.
func (p *Provider) Posters(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	switch owner.Kind {
	case types.OwnerMovie:
		resp, err := p.movie(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Posters), nil
	case types.OwnerSeries:
		resp, err := p.tv(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Posters), nil
	case types.OwnerSeason:
		resp, err := p.tv(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(forSeason(resp.SeasonPosters, owner.Season)), nil
	}
	return nil, nil
}

// Fanarts returns movie and series backgrounds.
func (p *Provider) Fanarts(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	switch owner.Kind {
	case types.OwnerMovie:
		resp, err := p.movie(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Backgrounds), nil
	case types.OwnerSeries:
		resp, err := p.tv(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Backgrounds), nil
	}
	return nil, nil
}

// Banners returns series and season banners.
func (p *Provider) Banners(ctx context.Context, owner *types.OwnerRecord) ([]types.Candidate, error) {
	switch owner.Kind {
	case types.OwnerMovie:
		resp, err := p.movie(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Banners), nil
	case types.OwnerSeries:
		resp, err := p.tv(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(resp.Banners), nil
	case types.OwnerSeason:
		resp, err := p.tv(ctx, owner)
		if err != nil || resp == nil {
			return nil, err
		}
		return p.candidates(forSeason(resp.SeasonBanners, owner.Season)), nil
	}
	return nil, nil
}

func (p *Provider) movie(ctx context.Context, owner *types.OwnerRecord) (*movieResponse, error) {
	id := owner.ExternalID("tmdb")
	if id == "" {
		return nil, nil
	}
	var resp movieResponse
	found, err := p.get(ctx, "/movies/"+id, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (p *Provider) tv(ctx context.Context, owner *types.OwnerRecord) (*tvResponse, error) {
	id := owner.ExternalID("tvdb")
	if id == "" {
		return nil, nil
	}
	var resp tvResponse
	found, err := p.get(ctx, "/tv/"+id, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (p *Provider) get(ctx context.Context, path string, result interface{}) (bool, error) {
	reqURL := fmt.Sprintf("%s%s?api_key=%s", strings.TrimRight(p.config.BaseURL, "/"), path, p.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		p.logger.Debug("no artwork on fanart.tv", "path", path)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fanart.tv returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return false, err
	}
	return true, nil
}

func forSeason(images []fanartImage, season int) []fanartImage {
	want := strconv.Itoa(season)
	var out []fanartImage
	for _, img := range images {
		if img.Season == want || img.Season == "all" {
			out = append(out, img)
		}
	}
	return out
}

// candidates prefers the configured language (or no text), then likes.
func (p *Provider) candidates(images []fanartImage) []types.Candidate {
	type ranked struct {
		img   fanartImage
		likes int
		lang  int
	}

	list := make([]ranked, 0, len(images))
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		likes, _ := strconv.Atoi(img.Likes)
		lang := 1
		if img.Lang == p.config.Language || img.Lang == "" || img.Lang == "00" {
			lang = 0
		}
		list = append(list, ranked{img: img, likes: likes, lang: lang})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].lang != list[j].lang {
			return list[i].lang < list[j].lang
		}
		return list[i].likes > list[j].likes
	})

	out := make([]types.Candidate, 0, len(list))
	for _, r := range list {
		out = append(out, types.Candidate{
			Source:   Name,
			URL:      r.img.URL,
			Hash:     r.img.ID,
			Rating:   r.likes,
			Language: r.img.Lang,
		})
	}
	return out
}
