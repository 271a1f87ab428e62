package derive

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Transform applies the profile's scaling policy to img.
func Transform(img image.Image, profile *types.ArtworkProfile) image.Image {
	bounds := img.Bounds()
	w, h := CanvasSize(bounds.Dx(), bounds.Dy(), profile)

	var out image.Image
	switch profile.Scaling {
	case types.ScaleNormalize:
		out = fill(img, w, h)
	default:
		out = resize(img, w, h)
	}

	if profile.RoundedCorners {
		cf := profile.QualityFactor()
		out = roundCorners(out, scaled(profile.CornerRadius, cf))
		if cf > 1 {
			b := out.Bounds()
			out = resize(out, scaled(b.Dx(), 1/cf), scaled(b.Dy(), 1/cf))
		}
	}
	return out
}

// CanvasSize returns the size an ow x oh original is scaled to before the
// corner quality factor is undone.
func CanvasSize(ow, oh int, profile *types.ArtworkProfile) (int, int) {
	cf := profile.QualityFactor()
	tw := scaled(profile.Width, cf)
	th := scaled(profile.Height, cf)

	switch profile.Scaling {
	case types.ScaleNormalize:
		if ow < profile.Width && oh < profile.Height {
			// below target: keep the original aspect and height
			ratio := float64(ow) / float64(oh)
			return int(math.Round(float64(oh) * ratio * cf)), scaled(oh, cf)
		}
		return tw, th
	case types.ScaleStretch:
		return tw, th
	default:
		return FitSize(ow, oh, tw, th)
	}
}

// FitSize returns the largest size with the source aspect ratio that fits in
// the target box.
func FitSize(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxW <= 0 || maxH <= 0 {
		return srcW, srcH
	}
	if srcW == maxW && srcH == maxH {
		return srcW, srcH
	}
	scale := math.Min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func scaled(v int, factor float64) int {
	s := int(math.Round(float64(v) * factor))
	if s < 1 {
		return 1
	}
	return s
}

func sameSize(img image.Image, w, h int) bool {
	b := img.Bounds()
	return b.Dx() == w && b.Dy() == h
}

// fill crops to the target aspect ratio around the center, then scales.
func fill(img image.Image, w, h int) image.Image {
	if sameSize(img, w, h) {
		return img
	}
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

func resize(img image.Image, w, h int) image.Image {
	if sameSize(img, w, h) {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// roundCorners makes the pixels outside a quarter circle of the given radius
// in each corner transparent.
func roundCorners(img image.Image, radius int) image.Image {
	out := imaging.Clone(img)
	b := out.Bounds()
	w, h := b.Dx(), b.Dy()
	if radius <= 0 {
		return out
	}
	if radius > w/2 {
		radius = w / 2
	}
	if radius > h/2 {
		radius = h / 2
	}

	r := float64(radius)
	transparent := color.NRGBA{}
	for y := 0; y < radius; y++ {
		for x := 0; x < radius; x++ {
			dx := r - float64(x) - 0.5
			dy := r - float64(y) - 0.5
			if dx*dx+dy*dy <= r*r {
				continue
			}
			out.SetNRGBA(x, y, transparent)
			out.SetNRGBA(w-1-x, y, transparent)
			out.SetNRGBA(x, h-1-y, transparent)
			out.SetNRGBA(w-1-x, h-1-y, transparent)
		}
	}
	return out
}
