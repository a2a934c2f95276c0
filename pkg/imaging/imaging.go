// Package imaging re-encodes downloaded work images to satisfy a chat
// transport's size and dimension caps, matching spec.md §4.6's "Image
// conditioning" requirement and ported in spirit from
// original_source/notifier/telegram.py's _compress_image: shrink first on
// oversized dimensions, then step JPEG quality down, then scale the
// image down, before giving up.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	// Registered so image.Decode recognizes source formats the platform
	// serves (PNG illustrations are common alongside JPEG).
	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// Config governs the re-encode pass.
type Config struct {
	// MaxEdgePx bounds the longer image edge in pixels.
	MaxEdgePx int
	// MaxQuality is the starting JPEG quality; the encoder steps down to
	// minQuality (50, per spec.md) if the result still exceeds MaxBytes.
	MaxQuality int
	// MaxBytes bounds the encoded payload size. Zero disables the check.
	MaxBytes int
}

const minQuality = 50

// Condition decodes raw, resizes it to fit MaxEdgePx, and re-encodes as
// JPEG within [minQuality, cfg.MaxQuality], stepping quality down and
// then scaling further if MaxBytes is still exceeded. Returns an error
// when the input cannot be decoded or a JPEG encode fails; callers fall
// back to a reverse-proxy URL in that case, per spec.md.
func Condition(raw []byte, cfg Config) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	quality := cfg.MaxQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	if quality < minQuality {
		quality = minQuality
	}

	maxEdge := cfg.MaxEdgePx
	if maxEdge <= 0 {
		maxEdge = 4096
	}
	img = resizeToFit(img, maxEdge)

	encoded, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	if cfg.MaxBytes <= 0 || len(encoded) <= cfg.MaxBytes {
		return encoded, nil
	}

	for q := quality - 10; q >= minQuality; q -= 10 {
		encoded, err = encodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= cfg.MaxBytes {
			return encoded, nil
		}
	}

	for scale := 0.8; scale >= 0.3; scale -= 0.2 {
		b := img.Bounds()
		w := int(float64(b.Dx()) * scale)
		h := int(float64(b.Dy()) * scale)
		if w < 1 || h < 1 {
			break
		}
		scaled := scaleTo(img, w, h)
		encoded, err = encodeJPEG(scaled, minQuality)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= cfg.MaxBytes {
			return encoded, nil
		}
	}

	return encoded, nil
}

// resizeToFit scales img down so its longer edge is at most maxEdge,
// preserving aspect ratio. Images already within bounds are returned
// unchanged.
func resizeToFit(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge {
		return img
	}
	scale := float64(maxEdge) / float64(longest)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return scaleTo(img, newW, newH)
}

func scaleTo(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
