package canvas

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// ImageOptions mirrors the export options of the host engine.
type ImageOptions struct {
	Scale      float64
	Format     ImageFormat
	Background bool
}

// Image is an encoded raster image.
type Image struct {
	Data   []byte
	Format ImageFormat
	Width  int
	Height int
}

// DataURI 返回 data:image/...;base64 形式。
func (i Image) DataURI() string {
	return "data:image/" + string(i.Format) + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Rasterizer turns a standalone SVG document into an encoded image of the
// given pixel size.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg string, width, height int, format ImageFormat) (Image, error)
}

// Editor is one user's view of a document: selection, preferences and the
// toast sink. It exposes the capabilities the make-real pipeline consumes.
type Editor struct {
	doc       *Document
	selection []ShapeID
	prefs     Preferences
	raster    Rasterizer
	toast     func(Toast)
}

type EditorOption func(*Editor)

func WithSelection(ids ...ShapeID) EditorOption {
	return func(e *Editor) { e.selection = append([]ShapeID(nil), ids...) }
}

func WithPreferences(p Preferences) EditorOption {
	return func(e *Editor) { e.prefs = p }
}

func WithToasts(fn func(Toast)) EditorOption {
	return func(e *Editor) { e.toast = fn }
}

func NewEditor(doc *Document, raster Rasterizer, opts ...EditorOption) *Editor {
	e := &Editor{doc: doc, raster: raster}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Document() *Document { return e.doc }

func (e *Editor) Select(ids ...ShapeID) { e.selection = append([]ShapeID(nil), ids...) }

// SelectedShapeIDs returns the ids of selected shapes that still exist.
func (e *Editor) SelectedShapeIDs() []ShapeID {
	out := make([]ShapeID, 0, len(e.selection))
	for _, id := range e.selection {
		if _, ok := e.doc.Shape(id); ok {
			out = append(out, id)
		}
	}
	return out
}

func (e *Editor) SelectedShapes() []Shape {
	ids := e.SelectedShapeIDs()
	out := make([]Shape, 0, len(ids))
	for _, id := range ids {
		s, _ := e.doc.Shape(id)
		out = append(out, s)
	}
	return out
}

// SelectionPageBounds is false when nothing is selected or the union is degenerate.
func (e *Editor) SelectionPageBounds() (Box, bool) {
	b, ok := e.doc.Bounds(e.SelectedShapeIDs())
	if !ok || (b.W == 0 && b.H == 0) {
		return Box{}, false
	}
	return b, true
}

// ToImage exports shapes to SVG and rasterizes it at opts.Scale.
func (e *Editor) ToImage(ctx context.Context, shapes []Shape, opts ImageOptions) (Image, error) {
	if e.raster == nil {
		return Image{}, errors.New("no rasterizer configured")
	}
	if len(shapes) == 0 {
		return Image{}, errors.New("no shapes to export")
	}
	ids := make([]ShapeID, len(shapes))
	for i, s := range shapes {
		ids[i] = s.ID
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	svg, box, err := e.doc.SVG(ctx, ids, SVGOptions{
		Background: opts.Background,
		DarkMode:   e.prefs.IsDarkMode,
		Padding:    32,
	})
	if err != nil {
		return Image{}, fmt.Errorf("could not get svg: %w", err)
	}
	w := int(math.Max(1, math.Round(box.W*scale)))
	h := int(math.Max(1, math.Round(box.H*scale)))
	img, err := e.raster.Rasterize(ctx, svg, w, h, format)
	if err != nil {
		return Image{}, fmt.Errorf("could not rasterize selection: %w", err)
	}
	return img, nil
}

func (e *Editor) CreateShape(s Shape) (Shape, error) { return e.doc.CreateShape(s) }

func (e *Editor) UpdateShape(id ShapeID, fn func(p *Props)) (Shape, error) {
	return e.doc.UpdateShape(id, fn)
}

func (e *Editor) DeleteShape(id ShapeID) error { return e.doc.DeleteShape(id) }

func (e *Editor) ShapeAndDescendantIDs(ids []ShapeID) []ShapeID {
	return e.doc.ShapeAndDescendantIDs(ids)
}

func (e *Editor) Shape(id ShapeID) (Shape, bool) { return e.doc.Shape(id) }

func (e *Editor) ShapePageBounds(id ShapeID) (Box, bool) { return e.doc.ShapePageBounds(id) }

// Text returns the label of a text-bearing shape; ok is false for other variants.
func (e *Editor) Text(s Shape) (string, bool) {
	util, found := e.doc.reg.Util(s.Type)
	if !found {
		return "", false
	}
	tu, ok := util.(TextUtil)
	if !ok {
		return "", false
	}
	return tu.Text(&s), true
}

func (e *Editor) UserPreferences() Preferences { return e.prefs }

func (e *Editor) AddToast(t Toast) {
	if e.toast != nil {
		e.toast(t)
	}
}
