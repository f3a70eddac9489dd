package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// Persister receives every committed mutation of a document.
type Persister interface {
	SaveShape(docID string, s Shape) error
	DeleteShape(docID string, id ShapeID) error
}

// Document is the concurrency-safe shape store of one canvas.
type Document struct {
	ID string

	mu      sync.RWMutex
	reg     *Registry
	shapes  map[ShapeID]*Shape
	order   []ShapeID
	persist Persister
	logger  *slog.Logger
}

// NewDocument creates an empty document. persist may be nil.
func NewDocument(id string, reg *Registry, persist Persister, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		ID:      id,
		reg:     reg,
		shapes:  make(map[ShapeID]*Shape),
		persist: persist,
		logger:  logger,
	}
}

// Load 从存储恢复 shape，不触发持久化。
func (d *Document) Load(shapes []Shape) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range shapes {
		if _, ok := d.reg.Util(s.Type); !ok {
			return fmt.Errorf("load %s: %w: %s", s.ID, ErrUnknownType, s.Type)
		}
		if _, ok := d.shapes[s.ID]; ok {
			return fmt.Errorf("load %s: %w", s.ID, ErrDuplicateShape)
		}
		cp := s
		d.shapes[s.ID] = &cp
		d.order = append(d.order, s.ID)
	}
	return nil
}

func (d *Document) Registry() *Registry { return d.reg }

// CreateShape inserts s, generating an id when empty and filling unset props
// from the variant defaults.
func (d *Document) CreateShape(s Shape) (Shape, error) {
	util, ok := d.reg.Util(s.Type)
	if !ok {
		return Shape{}, fmt.Errorf("create shape: %w: %q", ErrUnknownType, s.Type)
	}
	if s.ID == "" {
		s.ID = NewShapeID()
	}
	s.Props = mergeProps(util.DefaultProps(), s.Props)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shapes[s.ID]; ok {
		return Shape{}, fmt.Errorf("create shape %s: %w", s.ID, ErrDuplicateShape)
	}
	if s.ParentID != "" {
		if _, ok := d.shapes[s.ParentID]; !ok {
			return Shape{}, fmt.Errorf("create shape %s: parent %s: %w", s.ID, s.ParentID, ErrShapeNotFound)
		}
	}
	if d.persist != nil {
		if err := d.persist.SaveShape(d.ID, s); err != nil {
			return Shape{}, fmt.Errorf("persist shape %s: %w", s.ID, err)
		}
	}
	cp := s
	d.shapes[s.ID] = &cp
	d.order = append(d.order, s.ID)
	d.logger.Debug("shape created", "doc", d.ID, "shape", s.ID, "type", s.Type)
	return s, nil
}

// UpdateShape applies fn to the props of the shape. Only props change.
func (d *Document) UpdateShape(id ShapeID, fn func(p *Props)) (Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.shapes[id]
	if !ok {
		return Shape{}, fmt.Errorf("update shape %s: %w", id, ErrShapeNotFound)
	}
	next := *cur
	fn(&next.Props)
	if d.persist != nil {
		if err := d.persist.SaveShape(d.ID, next); err != nil {
			return Shape{}, fmt.Errorf("persist shape %s: %w", id, err)
		}
	}
	*cur = next
	return next, nil
}

// MoveShape sets position and size. Used by the host UI, never by the pipeline.
func (d *Document) MoveShape(id ShapeID, x, y, w, h float64) (Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.shapes[id]
	if !ok {
		return Shape{}, fmt.Errorf("move shape %s: %w", id, ErrShapeNotFound)
	}
	util, _ := d.reg.Util(cur.Type)
	next := *cur
	next.X, next.Y = x, y
	if util != nil && util.Capabilities().CanResize && w > 0 && h > 0 {
		next.Props.W, next.Props.H = w, h
	}
	if d.persist != nil {
		if err := d.persist.SaveShape(d.ID, next); err != nil {
			return Shape{}, fmt.Errorf("persist shape %s: %w", id, err)
		}
	}
	*cur = next
	return next, nil
}

// DeleteShape removes the shape and all of its descendants.
func (d *Document) DeleteShape(id ShapeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shapes[id]; !ok {
		return fmt.Errorf("delete shape %s: %w", id, ErrShapeNotFound)
	}
	doomed := d.descendantsLocked([]ShapeID{id})
	var errs []error
	for _, sid := range doomed {
		if d.persist != nil {
			if err := d.persist.DeleteShape(d.ID, sid); err != nil {
				errs = append(errs, fmt.Errorf("persist delete %s: %w", sid, err))
				continue
			}
		}
		delete(d.shapes, sid)
	}
	d.compactLocked()
	d.logger.Debug("shape deleted", "doc", d.ID, "shape", id, "count", len(doomed))
	return errors.Join(errs...)
}

func (d *Document) compactLocked() {
	kept := d.order[:0]
	for _, id := range d.order {
		if _, ok := d.shapes[id]; ok {
			kept = append(kept, id)
		}
	}
	d.order = kept
}

// Shape returns a copy of the shape.
func (d *Document) Shape(id ShapeID) (Shape, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shapes[id]
	if !ok {
		return Shape{}, false
	}
	return *s, true
}

// Shapes returns all shapes in creation order.
func (d *Document) Shapes() []Shape {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Shape, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.shapes[id])
	}
	return out
}

// ShapeAndDescendantIDs returns ids plus every descendant, each once,
// parents before children.
func (d *Document) ShapeAndDescendantIDs(ids []ShapeID) []ShapeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.descendantsLocked(ids)
}

func (d *Document) descendantsLocked(ids []ShapeID) []ShapeID {
	seen := make(map[ShapeID]bool)
	var out []ShapeID
	queue := append([]ShapeID(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		if _, ok := d.shapes[id]; !ok {
			continue
		}
		seen[id] = true
		out = append(out, id)
		for _, cid := range d.order {
			if d.shapes[cid].ParentID == id {
				queue = append(queue, cid)
			}
		}
	}
	return out
}

// ShapePageBounds returns the page-space box of a shape.
func (d *Document) ShapePageBounds(id ShapeID) (Box, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shapes[id]
	if !ok {
		return Box{}, false
	}
	x, y := s.X, s.Y
	// 父链上的偏移累加；环路视为无效。
	for depth, pid := 0, s.ParentID; pid != ""; depth++ {
		p, ok := d.shapes[pid]
		if !ok || depth > len(d.shapes) {
			return Box{}, false
		}
		x += p.X
		y += p.Y
		pid = p.ParentID
	}
	w, h := s.Props.W, s.Props.H
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(w) || math.IsNaN(h) {
		return Box{}, false
	}
	return Box{X: x, Y: y, W: w, H: h}, true
}

// Bounds returns the union of the page bounds of ids.
func (d *Document) Bounds(ids []ShapeID) (Box, bool) {
	var (
		box   Box
		found bool
	)
	for _, id := range ids {
		b, ok := d.ShapePageBounds(id)
		if !ok {
			continue
		}
		if !found {
			box, found = b, true
			continue
		}
		box = box.Union(b)
	}
	return box, found
}

// SVGOptions controls static export.
type SVGOptions struct {
	Background bool
	DarkMode   bool
	Padding    float64
}

// SVG renders ids (and their descendants) into one standalone SVG document.
// Preview shapes may block here for the duration of a snapshot round-trip.
func (d *Document) SVG(ctx context.Context, ids []ShapeID, opts SVGOptions) (string, Box, error) {
	all := d.ShapeAndDescendantIDs(ids)
	bounds, ok := d.Bounds(all)
	if !ok {
		return "", Box{}, errors.New("could not get bounds of shapes")
	}
	pad := opts.Padding
	vb := Box{X: bounds.X - pad, Y: bounds.Y - pad, W: bounds.W + 2*pad, H: bounds.H + 2*pad}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%.0f" height="%.0f" viewBox="%.2f %.2f %.2f %.2f">`,
		math.Ceil(vb.W), math.Ceil(vb.H), vb.X, vb.Y, vb.W, vb.H))
	if opts.Background {
		bg := "#f9fafb"
		if opts.DarkMode {
			bg = "#101011"
		}
		sb.WriteString(fmt.Sprintf(`<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"/>`, vb.X, vb.Y, vb.W, vb.H, bg))
	}
	for _, id := range all {
		s, ok := d.Shape(id)
		if !ok {
			continue
		}
		util, ok := d.reg.Util(s.Type)
		if !ok {
			continue
		}
		pb, _ := d.ShapePageBounds(id)
		body, err := util.ToSVG(ctx, &s)
		if err != nil {
			return "", Box{}, fmt.Errorf("export %s: %w", id, err)
		}
		// arrow 的原点不一定是左上角
		ox, oy := pb.X, pb.Y
		if s.Props.W < 0 {
			ox -= s.Props.W
		}
		if s.Props.H < 0 {
			oy -= s.Props.H
		}
		sb.WriteString(fmt.Sprintf(`<g transform="translate(%.2f %.2f)">%s</g>`, ox, oy, body))
	}
	sb.WriteString(`</svg>`)
	return sb.String(), vb, nil
}

func mergeProps(def, p Props) Props {
	if p.W == 0 {
		p.W = def.W
	}
	if p.H == 0 {
		p.H = def.H
	}
	if p.Color == "" {
		p.Color = def.Color
	}
	if p.Fill == "" {
		p.Fill = def.Fill
	}
	if p.Geo == "" {
		p.Geo = def.Geo
	}
	return p
}
