package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"make_real/canvas"
)

// JPEGQuality is used for every JPEG encode.
const JPEGQuality = 92

// Fit scales img down so that neither side exceeds maxSize. Images already
// within bounds, or maxSize <= 0, are returned unchanged.
func Fit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}
	nw, nh := maxSize, maxSize
	if w >= h {
		nh = max(1, h*maxSize/w)
	} else {
		nw = max(1, w*maxSize/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Resize scales img to exactly w by h.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Encode writes img in the requested format. JPEG has no alpha channel, so
// transparent pixels are flattened onto white first.
func Encode(img image.Image, format canvas.ImageFormat) (canvas.Image, error) {
	var buf bytes.Buffer
	b := img.Bounds()
	switch format {
	case canvas.FormatJPEG:
		flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return canvas.Image{}, fmt.Errorf("encode jpeg: %w", err)
		}
	case canvas.FormatPNG, "":
		format = canvas.FormatPNG
		if err := png.Encode(&buf, img); err != nil {
			return canvas.Image{}, fmt.Errorf("encode png: %w", err)
		}
	default:
		return canvas.Image{}, fmt.Errorf("unsupported image format %q", format)
	}
	return canvas.Image{Data: buf.Bytes(), Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Normalize decodes a screenshot, brings it to w by h, caps it at maxSize and
// re-encodes it.
func Normalize(data []byte, w, h, maxSize int, format canvas.ImageFormat) (canvas.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return canvas.Image{}, fmt.Errorf("decode screenshot: %w", err)
	}
	if w > 0 && h > 0 {
		img = Resize(img, w, h)
	}
	return Encode(Fit(img, maxSize), format)
}
