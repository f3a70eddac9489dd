// Package publisher writes a generated preview to disk as a standalone site.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"make_real/canvas"
)

const (
	indexFile    = "index.html"
	manifestFile = "manifest.json"
)

var ErrEmptyPayload = errors.New("preview has no generated document yet")

// PublishParams describes the preview to export.
type PublishParams struct {
	DocumentID string
	Shape      canvas.Shape
	OutDir     string
	// Image is an optional rendering of the preview, written next to the page.
	Image *canvas.Image
}

// Result lists what was written.
type Result struct {
	Dir   string
	Files []string
}

type manifest struct {
	DocumentID string    `json:"document_id,omitempty"`
	ShapeID    string    `json:"shape_id"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	Image      string    `json:"image,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
}

// Publisher writes previews. now is replaceable in tests.
type Publisher struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger, now: time.Now}
}

// Publish writes the raw payload as index.html, the optional image as
// preview.<ext> and a manifest.json. The payload is written as generated,
// without the in-canvas scripts.
func (p *Publisher) Publish(ctx context.Context, params PublishParams) (Result, error) {
	if params.Shape.Type != canvas.TypeResponse {
		return Result{}, fmt.Errorf("shape %s is a %s, not a preview", params.Shape.ID, params.Shape.Type)
	}
	if strings.TrimSpace(params.Shape.Props.HTML) == "" {
		return Result{}, ErrEmptyPayload
	}
	if params.OutDir == "" {
		return Result{}, errors.New("output directory is required")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(params.OutDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	res := Result{Dir: params.OutDir}
	if err := writeFile(params.OutDir, indexFile, []byte(params.Shape.Props.HTML)); err != nil {
		return Result{}, err
	}
	res.Files = append(res.Files, indexFile)

	m := manifest{
		DocumentID: params.DocumentID,
		ShapeID:    string(params.Shape.ID),
		Width:      params.Shape.Props.W,
		Height:     params.Shape.Props.H,
		ExportedAt: p.now().UTC(),
	}
	if params.Image != nil && len(params.Image.Data) > 0 {
		name := "preview." + imageExt(params.Image.Format)
		if err := writeFile(params.OutDir, name, params.Image.Data); err != nil {
			return Result{}, err
		}
		res.Files = append(res.Files, name)
		m.Image = name
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFile(params.OutDir, manifestFile, data); err != nil {
		return Result{}, err
	}
	res.Files = append(res.Files, manifestFile)

	p.logger.Info("preview published", "shape", params.Shape.ID, "dir", params.OutDir, "files", len(res.Files))
	return res, nil
}

func imageExt(f canvas.ImageFormat) string {
	if f == canvas.FormatJPEG {
		return "jpg"
	}
	return "png"
}

// writeFile 先写临时文件再 rename，避免留下半截文件。
func writeFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
