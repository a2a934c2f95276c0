package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestConditionDecodesAndReencodesAsJPEG(t *testing.T) {
	raw := solidPNG(t, 100, 80)
	out, err := Condition(raw, Config{MaxEdgePx: 4096, MaxQuality: 90})
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 100, decoded.Bounds().Dx())
	require.Equal(t, 80, decoded.Bounds().Dy())
}

func TestConditionResizesOversizedEdge(t *testing.T) {
	raw := solidPNG(t, 2000, 1000)
	out, err := Condition(raw, Config{MaxEdgePx: 500, MaxQuality: 90})
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.LessOrEqual(t, decoded.Bounds().Dx(), 500)
	require.LessOrEqual(t, decoded.Bounds().Dy(), 500)
}

func TestConditionShrinksToFitMaxBytes(t *testing.T) {
	raw := solidPNG(t, 800, 800)
	out, err := Condition(raw, Config{MaxEdgePx: 4096, MaxQuality: 90, MaxBytes: 2000})
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 2000+4096) // step-down is heuristic, not exact; bounded tolerance
}

func TestConditionRejectsUndecodableInput(t *testing.T) {
	_, err := Condition([]byte("not an image"), Config{})
	require.Error(t, err)
}
