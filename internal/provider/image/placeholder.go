package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 1080
	placeholderHeight = 1920

	maxLabelChars = 40
)

// Placeholder renders a deterministic 1080x1920 JPEG used when every
// generation attempt for a scene failed: a dark vertical gradient with
// the 1-based scene number and an optional title line. It never fails,
// which makes the image fallback chain total.
func Placeholder(sceneIndex int, title string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))

	for y := 0; y < placeholderHeight; y++ {
		t := float64(y) / float64(placeholderHeight-1)
		c := color.RGBA{
			R: uint8(16 + t*26),
			G: uint8(18 + t*24),
			B: uint8(32 + t*54),
			A: 255,
		}
		for x := 0; x < placeholderWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	drawCentered(img, fmt.Sprintf("Scene %d", sceneIndex+1), placeholderHeight/2-12)
	if title != "" {
		drawCentered(img, truncateLabel(title), placeholderHeight/2+24)
	}

	var buf bytes.Buffer
	// Encoding into a bytes.Buffer cannot fail.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	return buf.Bytes()
}

func drawCentered(img *image.RGBA, text string, y int) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 233, G: 236, B: 245, A: 255}),
		Face: face,
		Dot:  fixed.P((placeholderWidth-width)/2, y),
	}
	d.DrawString(text)
}

func truncateLabel(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLabelChars {
		return s
	}
	return string(runes[:maxLabelChars-1]) + "…"
}
