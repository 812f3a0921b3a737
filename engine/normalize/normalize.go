// Package normalize turns raw image bytes into a fixed-size transparent
// canvas with the source scaled to fit and centered.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WebP with image.Decode

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
)

// MaxPixels bounds the decoded size of a source image.
const MaxPixels = 8192 * 8192

var (
	errEmpty    = errors.New("no image data")
	errZeroSize = errors.New("image has zero width or height")
	errTooLarge = fmt.Errorf("image exceeds %d pixels", MaxPixels)
)

// Decode fully decodes raw into an image. The header is checked first so
// oversized images are refused before any pixel allocation; the full decode
// then validates the rest of the stream (checksums, truncation).
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, &collectible.DecodeError{Err: errEmpty}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &collectible.DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &collectible.DecodeError{Err: errZeroSize}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &collectible.DecodeError{Err: errTooLarge}
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &collectible.DecodeError{Err: err}
	}
	return img, nil
}

// Fit returns the size of a srcW x srcH image scaled by
// min(dstW/srcW, dstH/srcH), rounded and clamped to the box. Sources smaller
// than the box are enlarged until they touch it.
func Fit(srcW, srcH, dstW, dstH int) (int, int) {
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := clamp(int(math.Round(float64(srcW)*scale)), 1, dstW)
	h := clamp(int(math.Round(float64(srcH)*scale)), 1, dstH)
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize decodes raw, scales it with a Lanczos filter to fit a
// width x height box and pastes it centered on a fully transparent canvas
// of exactly that size. Offsets use floor division.
func Normalize(raw []byte, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("normalize: invalid target %dx%d", width, height)
	}
	src, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Fill(src, width, height), nil
}

// Fill is Normalize for an already decoded image.
func Fill(src image.Image, width, height int) *image.NRGBA {
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), width, height)
	scaled := imaging.Resize(src, w, h, imaging.Lanczos)
	canvas := imaging.New(width, height, color.NRGBA{})
	return imaging.Paste(canvas, scaled, image.Pt((width-w)/2, (height-h)/2))
}

// Encode writes img as PNG at best compression.
func Encode(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
}

// Dimensions fully decodes the file at path and returns its pixel size.
// Unreadable or undecodable files yield a DecodeError naming the path.
func Dimensions(path string) (int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	img, err := Decode(raw)
	if err != nil {
		var de *collectible.DecodeError
		if errors.As(err, &de) {
			de.Source = path
		}
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
