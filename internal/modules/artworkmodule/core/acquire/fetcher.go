package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/imageio"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/source"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// FetchConfig bounds network and file reads.
type FetchConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	ProbeBytes int64
	UserAgent  string
}

// DefaultFetchConfig returns sensible limits.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:    30 * time.Second,
		MaxBytes:   20 * 1024 * 1024,
		ProbeBytes: 64 * 1024,
		UserAgent:  "Viewra-Artwork/1.0",
	}
}

// Dimensions is a probed image size. The zero value means the size could
// not be determined from the probe.
type Dimensions struct {
	Width  int
	Height int
}

// Known reports whether the probe found a size.
func (d Dimensions) Known() bool {
	return d != Dimensions{}
}

// Fetcher loads candidate bytes and probes remote dimensions.
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) (Dimensions, error)
	Fetch(ctx context.Context, located *types.LocatedArtwork) ([]byte, error)
}

// HTTPFetcher fetches URLs over HTTP and reads local and embedded sources
// from disk.
type HTTPFetcher struct {
	client *http.Client
	config FetchConfig
}

// NewHTTPFetcher creates a fetcher. A nil client gets one with the
// configured timeout.
func NewHTTPFetcher(client *http.Client, config FetchConfig) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPFetcher{client: client, config: config}
}

// Probe reads the first ProbeBytes of the image and decodes its header.
// A header that does not fit in the probe window, such as a JPEG with large
// EXIF or ICC segments ahead of its frame, yields zero Dimensions so the
// size is read from the full body instead.
func (f *HTTPFetcher) Probe(ctx context.Context, rawURL string) (Dimensions, error) {
	resp, err := f.get(ctx, rawURL, f.config.ProbeBytes)
	if err != nil {
		return Dimensions{}, err
	}
	defer resp.Body.Close()

	head, err := io.ReadAll(io.LimitReader(resp.Body, f.config.ProbeBytes))
	if err != nil {
		return Dimensions{}, aErrors.Transient("probe", fmt.Errorf("failed to read image header: %w", err))
	}

	dims, err := readDimensions(head)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || int64(len(head)) >= f.config.ProbeBytes {
			return Dimensions{}, nil
		}
		return Dimensions{}, aErrors.Quality("probe", fmt.Errorf("%w: %v", aErrors.ErrNoDimensions, err))
	}
	return dims, nil
}

// Fetch returns the full image bytes of the located artwork.
func (f *HTTPFetcher) Fetch(ctx context.Context, located *types.LocatedArtwork) ([]byte, error) {
	switch {
	case located.Source == source.SourceEmbedded:
		data, _, err := source.ReadEmbeddedPicture(located.File)
		if err != nil {
			return nil, aErrors.Transient("read_embedded", err)
		}
		return data, nil
	case located.URL != "":
		return f.fetchURL(ctx, located.URL)
	case located.File != "":
		return f.readFile(located.File)
	}
	return nil, aErrors.Quality("fetch", fmt.Errorf("located artwork %d has no url or file: %w", located.ID, aErrors.ErrInvalidInput))
}

func (f *HTTPFetcher) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.get(ctx, rawURL, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.config.MaxBytes {
		return nil, aErrors.Quality("fetch", fmt.Errorf("image too large: %d bytes", resp.ContentLength))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, aErrors.Transient("fetch", fmt.Errorf("failed to read image data: %w", err))
	}
	if int64(len(data)) > f.config.MaxBytes {
		return nil, aErrors.Quality("fetch", fmt.Errorf("image exceeds %d bytes", f.config.MaxBytes))
	}
	return data, nil
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, aErrors.Transient("read_file", err)
	}
	if info.Size() > f.config.MaxBytes {
		return nil, aErrors.Quality("read_file", fmt.Errorf("image too large: %d bytes", info.Size()))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aErrors.Transient("read_file", err)
	}
	return data, nil
}

// get issues a GET, optionally limited to the first rangeBytes, and
// classifies failures.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string, rangeBytes int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, aErrors.Quality("request", fmt.Errorf("%w: %v", aErrors.ErrInvalidInput, err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "image/*")
	if rangeBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", rangeBytes-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, aErrors.Transient("request", err)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
		return resp, nil
	}

	// drain a little so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	statusErr := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, aErrors.Quality("request", fmt.Errorf("%w: %v", aErrors.ErrSourceGone, statusErr))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, aErrors.Transient("request", statusErr)
	default:
		return nil, aErrors.Quality("request", statusErr)
	}
}

// readDimensions decodes the header of in-memory data.
func readDimensions(data []byte) (Dimensions, error) {
	cfg, _, err := imageio.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}
