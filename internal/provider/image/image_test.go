package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelgen/reelgen/internal/provider"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalize(t *testing.T) {
	data, err := Normalize(encodePNG(t, 300, 420))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 420, img.Bounds().Dy())
}

func TestNormalize_AcceptsJPEGInput(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 400))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	data, err := Normalize(buf.Bytes())
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestNormalize_RejectsTinyImage(t *testing.T) {
	_, err := Normalize(encodePNG(t, 100, 400))
	require.Error(t, err)
	assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))

	_, err = Normalize(encodePNG(t, 400, 100))
	require.Error(t, err)
	assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("this is not an image"))
	require.Error(t, err)
	assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))
}

func TestPlaceholder(t *testing.T) {
	data := Placeholder(0, "A misty mountain lake")
	require.NotEmpty(t, data)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, placeholderWidth, img.Bounds().Dx())
	assert.Equal(t, placeholderHeight, img.Bounds().Dy())
}

func TestPlaceholder_Deterministic(t *testing.T) {
	a := Placeholder(2, "same title")
	b := Placeholder(2, "same title")
	assert.True(t, bytes.Equal(a, b), "same inputs must produce identical bytes")

	c := Placeholder(3, "same title")
	assert.False(t, bytes.Equal(a, c), "different scenes must differ")
}

func TestPlaceholder_SurvivesNormalize(t *testing.T) {
	data, err := Normalize(Placeholder(5, ""))
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestPlaceholder_LongTitleTruncated(t *testing.T) {
	long := "an extremely long scene title that would never fit on a single placeholder line at all"
	require.NotEmpty(t, Placeholder(1, long))
}
