package normalize

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, color.RGBA{R: 200, G: 40, B: 10, A: 255})); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jpegBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, color.RGBA{R: 10, G: 90, B: 200, A: 255}), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	cases := []struct {
		sw, sh, dw, dh int
		w, h           int
	}{
		{100, 200, 256, 192, 96, 192},
		{512, 384, 256, 192, 256, 192},
		{1000, 100, 256, 192, 256, 26},
		{64, 48, 256, 192, 256, 192}, // enlarged to touch the box
		{1, 1, 256, 192, 192, 192},
		{10000, 1, 256, 192, 256, 1},
	}
	for _, c := range cases {
		w, h := Fit(c.sw, c.sh, c.dw, c.dh)
		require.Equal(t, [2]int{c.w, c.h}, [2]int{w, h}, "%dx%d into %dx%d", c.sw, c.sh, c.dw, c.dh)
	}
}

func TestNormalizeCentersTallSource(t *testing.T) {
	out, err := Normalize(pngBytes(t, 100, 200), 256, 192)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 256, 192), out.Bounds())

	row := 96
	first, last := -1, -1
	for x := 0; x < 256; x++ {
		if out.NRGBAAt(x, row).A > 0 {
			if first < 0 {
				first = x
			}
			last = x
		}
	}
	left, right := first, 255-last
	require.Equal(t, 80, left)
	require.InDelta(t, left, right, 1)
	require.Equal(t, uint8(0), out.NRGBAAt(0, 0).A, "padding must be transparent")
	require.Equal(t, uint8(255), out.NRGBAAt(128, 96).A)
}

func TestNormalizeAddsAlphaToJPEG(t *testing.T) {
	out, err := Normalize(jpegBytes(t, 300, 100), 256, 192)
	require.NoError(t, err)
	require.Equal(t, 256, out.Bounds().Dx())
	require.Equal(t, 192, out.Bounds().Dy())
	require.Equal(t, uint8(0), out.NRGBAAt(128, 0).A)
	require.Equal(t, uint8(255), out.NRGBAAt(128, 96).A)
}

func TestNormalizeDeterministic(t *testing.T) {
	raw := pngBytes(t, 123, 77)
	a, err := Normalize(raw, 256, 192)
	require.NoError(t, err)
	b, err := Normalize(raw, 256, 192)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a.Pix, b.Pix))
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	good := pngBytes(t, 20, 20)

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-20] ^= 0xff
	truncated := good[:len(good)/2]

	for name, raw := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("<html>not an image</html>"),
		"corrupt":   corrupt,
		"truncated": truncated,
	} {
		_, err := Normalize(raw, 256, 192)
		var de *collectible.DecodeError
		require.True(t, errors.As(err, &de), "%s: got %v", name, err)
	}

	_, err := Normalize(good, 0, 10)
	require.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	out, err := Normalize(pngBytes(t, 50, 50), 64, 48)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, out))

	path := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	w, h, err := Dimensions(path)
	require.NoError(t, err)
	require.Equal(t, 64, w)
	require.Equal(t, 48, h)

	back, err := Decode(buf.Bytes())
	require.NoError(t, err)
	for _, p := range []image.Point{{0, 0}, {32, 24}, {63, 47}} {
		want := out.NRGBAAt(p.X, p.Y)
		got := color.NRGBAModel.Convert(back.At(p.X, p.Y)).(color.NRGBA)
		require.Equal(t, want, got, "pixel %v", p)
	}
}

func TestDimensionsNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, _, err := Dimensions(path)
	var de *collectible.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, path, de.Source)

	_, _, err = Dimensions(filepath.Join(t.TempDir(), "missing.png"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sw := rapid.IntRange(1, 40).Draw(rt, "srcW")
		sh := rapid.IntRange(1, 40).Draw(rt, "srcH")
		dw := rapid.IntRange(1, 40).Draw(rt, "dstW")
		dh := rapid.IntRange(1, 40).Draw(rt, "dstH")

		w, h := Fit(sw, sh, dw, dh)
		if w > dw || h > dh || (w != dw && h != dh) {
			rt.Fatalf("Fit(%d,%d,%d,%d) = %dx%d", sw, sh, dw, dh, w, h)
		}

		out := Fill(solid(sw, sh, color.White), dw, dh)
		if out.Bounds() != image.Rect(0, 0, dw, dh) {
			rt.Fatalf("canvas %v, want %dx%d", out.Bounds(), dw, dh)
		}
		again := Fill(solid(sw, sh, color.White), dw, dh)
		if !bytes.Equal(out.Pix, again.Pix) {
			rt.Fatal("Fill is not deterministic")
		}
	})
}
