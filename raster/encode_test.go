package raster

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"make_real/canvas"
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

func TestFit(t *testing.T) {
	tests := []struct {
		name       string
		w, h, size   int
		wantW, wantH int
	}{
		{"within bounds", 300, 200, 1000, 300, 200},
		{"wide", 4000, 1000, 1000, 1000, 250},
		{"tall", 500, 2000, 1000, 250, 1000},
		{"no cap", 4000, 1000, 0, 4000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(image.NewRGBA(image.Rect(0, 0, tt.w, tt.h)), tt.size).Bounds()
			assert.Equal(t, tt.wantW, got.Dx())
			assert.Equal(t, tt.wantH, got.Dy())
		})
	}
}

func TestEncodeJPEGFlattensAlpha(t *testing.T) {
	img, err := Encode(solid(8, 4, color.Transparent), canvas.FormatJPEG)
	require.NoError(t, err)
	assert.Equal(t, canvas.FormatJPEG, img.Format)
	assert.Equal(t, 8, img.Width)
	assert.Equal(t, 4, img.Height)
	assert.True(t, strings.HasPrefix(img.DataURI(), "data:image/jpeg;base64,"))

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(2, 2).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	_, err := Encode(solid(1, 1, color.Black), "gif")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(40, 20, color.RGBA{R: 255, A: 255})))

	img, err := Normalize(buf.Bytes(), 80, 40, 50, canvas.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, 50, img.Width)
	assert.Equal(t, 25, img.Height)

	_, err = Normalize([]byte("not an image"), 1, 1, 0, canvas.FormatPNG)
	assert.Error(t, err)
}

func TestSVGPage(t *testing.T) {
	u := svgPage(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`, 120, 80)
	require.True(t, strings.HasPrefix(u, "data:text/html;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "data:text/html;base64,"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "width:120px;height:80px")
	assert.Contains(t, string(raw), "<svg ")
}
