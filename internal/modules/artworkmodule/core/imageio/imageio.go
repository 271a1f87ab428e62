// Package imageio decodes, sniffs and encodes artwork images.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	_ "golang.org/x/image/webp" // Register WebP format
)

const (
	jpegQuality = 90
	webpQuality = 90
)

// DecodeConfig reads only the image header. Undecodable data yields
// ErrCorruptImage.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %w", aErrors.ErrCorruptImage, err)
	}
	return cfg, format, nil
}

// Decode decodes a full image, applying EXIF orientation. Decoder panics
// (typically allocation failures on hostile headers) are reported as
// ErrResourceExhausted.
func Decode(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: decoder panic: %v", aErrors.ErrResourceExhausted, r)
		}
	}()

	img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aErrors.ErrCorruptImage, err)
	}
	return img, nil
}

// Encode writes img in the given image type.
func Encode(w io.Writer, img image.Image, imageType string) error {
	switch types.NormalizeImageType(imageType) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: webpQuality})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "gif":
		return imaging.Encode(w, img, imaging.GIF)
	case "bmp":
		return imaging.Encode(w, img, imaging.BMP)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	}
}

// EncodeBytes encodes img into a byte slice.
func EncodeBytes(img image.Image, imageType string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, imageType); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", imageType, err)
	}
	return buf.Bytes(), nil
}

// Sniff detects the image type of data from its content.
func Sniff(data []byte) (string, bool) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", false
	}
	imageType := types.NormalizeImageType(strings.TrimPrefix(mtype.Extension(), "."))
	return imageType, imageType != ""
}
