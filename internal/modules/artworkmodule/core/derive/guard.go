package derive

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/shirou/gopsutil/v4/mem"
)

// bytesPerPixel covers the decoded NRGBA buffer plus one transformed copy.
const bytesPerPixel = 8

// ResourceGuard decides whether an image of the given size may be decoded.
type ResourceGuard interface {
	Admit(ctx context.Context, width, height int) error
}

// MemoryGuard refuses decodes that exceed a pixel budget or would not fit in
// the memory currently available.
type MemoryGuard struct {
	maxPixels    int64
	minAvailable uint64
	logger       hclog.Logger

	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewMemoryGuard creates a guard. maxPixels <= 0 disables the pixel budget;
// minAvailableMB is the headroom that must remain after the decode.
func NewMemoryGuard(maxPixels int64, minAvailableMB uint64, logger hclog.Logger) *MemoryGuard {
	return &MemoryGuard{
		maxPixels:     maxPixels,
		minAvailable:  minAvailableMB * 1024 * 1024,
		logger:        logger.Named("memory-guard"),
		virtualMemory: mem.VirtualMemoryWithContext,
	}
}

// Admit returns ErrResourceExhausted when the decode must not happen.
func (g *MemoryGuard) Admit(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return aErrors.Corrupt("admit", fmt.Errorf("%w: %dx%d", aErrors.ErrCorruptImage, width, height))
	}

	pixels := int64(width) * int64(height)
	if g.maxPixels > 0 && pixels > g.maxPixels {
		return aErrors.Resource("admit", fmt.Errorf("%w: %dx%d exceeds %d pixels", aErrors.ErrResourceExhausted, width, height, g.maxPixels))
	}

	vm, err := g.virtualMemory(ctx)
	if err != nil {
		g.logger.Debug("memory statistics unavailable", "error", err)
		return nil
	}

	need := uint64(pixels) * bytesPerPixel
	if vm.Available < need+g.minAvailable {
		return aErrors.Resource("admit", fmt.Errorf("%w: need %d bytes, %d available", aErrors.ErrResourceExhausted, need, vm.Available))
	}
	return nil
}
