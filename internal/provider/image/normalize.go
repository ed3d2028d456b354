package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Register image format decoders
	_ "image/gif"
	_ "image/png"

	// WebP support from x/image
	_ "golang.org/x/image/webp"

	"github.com/reelgen/reelgen/internal/provider"
)

const (
	jpegQuality  = 85
	minDimension = 256
)

// Normalize decodes provider-supplied image bytes (JPEG, PNG, GIF or
// WebP) and re-encodes them as JPEG so storage only ever holds one
// format. Images smaller than 256px on either side are rejected as
// bad_output.
func Normalize(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, provider.BadOutput("image.normalize", fmt.Errorf("decoding image: %w", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() < minDimension || bounds.Dy() < minDimension {
		return nil, provider.BadOutput("image.normalize",
			fmt.Errorf("image too small: %dx%d (format=%s)", bounds.Dx(), bounds.Dy(), format))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, provider.BadOutput("image.normalize", fmt.Errorf("encoding to JPEG: %w", err))
	}
	return buf.Bytes(), nil
}
