package canvas

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	saved   map[ShapeID]Shape
	deleted []ShapeID
	failOn  ShapeID
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[ShapeID]Shape)}
}

func (m *memPersister) SaveShape(_ string, s Shape) error {
	if s.ID == m.failOn {
		return errors.New("disk full")
	}
	m.saved[s.ID] = s
	return nil
}

func (m *memPersister) DeleteShape(_ string, id ShapeID) error {
	m.deleted = append(m.deleted, id)
	delete(m.saved, id)
	return nil
}

func newTestDoc(t *testing.T, p Persister) *Document {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	return NewDocument("doc", reg, p, nil)
}

func mustCreate(t *testing.T, d *Document, s Shape) Shape {
	t.Helper()
	out, err := d.CreateShape(s)
	require.NoError(t, err)
	return out
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	require.Error(t, reg.Register(geoUtil{}))

	_, ok := reg.Util(TypeResponse)
	assert.False(t, ok, "response is registered by the preview package")
}

func TestCreateShapeDefaults(t *testing.T) {
	p := newMemPersister()
	d := newTestDoc(t, p)

	s := mustCreate(t, d, Shape{Type: TypeGeo, Props: Props{Text: "box"}})
	assert.True(t, strings.HasPrefix(string(s.ID), "shape:"))
	assert.Equal(t, 100.0, s.Props.W)
	assert.Equal(t, "rectangle", s.Props.Geo)
	assert.Equal(t, ColorBlack, s.Props.Color)
	assert.Contains(t, p.saved, s.ID)

	_, err := d.CreateShape(Shape{ID: s.ID, Type: TypeGeo})
	assert.ErrorIs(t, err, ErrDuplicateShape)

	_, err = d.CreateShape(Shape{Type: "draw"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = d.CreateShape(Shape{Type: TypeText, ParentID: "shape:missing"})
	assert.ErrorIs(t, err, ErrShapeNotFound)
}

func TestCreateShapePersistFailure(t *testing.T) {
	p := newMemPersister()
	p.failOn = "shape:bad"
	d := newTestDoc(t, p)

	_, err := d.CreateShape(Shape{ID: "shape:bad", Type: TypeText})
	require.Error(t, err)
	_, ok := d.Shape("shape:bad")
	assert.False(t, ok)
}

func TestUpdateShapeOnlyTouchesProps(t *testing.T) {
	d := newTestDoc(t, nil)
	s := mustCreate(t, d, Shape{Type: TypeNote, X: 10, Y: 20})

	got, err := d.UpdateShape(s.ID, func(p *Props) { p.Text = "hi" })
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Props.Text)
	assert.Equal(t, 10.0, got.X)

	_, err = d.UpdateShape("shape:nope", func(*Props) {})
	assert.ErrorIs(t, err, ErrShapeNotFound)
}

func TestMoveShapeRespectsResize(t *testing.T) {
	d := newTestDoc(t, nil)
	note := mustCreate(t, d, Shape{Type: TypeNote})
	geo := mustCreate(t, d, Shape{Type: TypeGeo})

	n, err := d.MoveShape(note.ID, 5, 6, 999, 999)
	require.NoError(t, err)
	assert.Equal(t, 200.0, n.Props.W, "notes cannot be resized")
	assert.Equal(t, 5.0, n.X)

	g, err := d.MoveShape(geo.ID, 0, 0, 50, 60)
	require.NoError(t, err)
	assert.Equal(t, Props{W: 50, H: 60, Color: ColorBlack, Fill: "none", Geo: "rectangle"}, g.Props)
}

func TestDeleteShapeCascades(t *testing.T) {
	p := newMemPersister()
	d := newTestDoc(t, p)
	frame := mustCreate(t, d, Shape{Type: TypeFrame})
	child := mustCreate(t, d, Shape{Type: TypeText, ParentID: frame.ID})
	other := mustCreate(t, d, Shape{Type: TypeText})

	require.NoError(t, d.DeleteShape(frame.ID))
	assert.ElementsMatch(t, []ShapeID{frame.ID, child.ID}, p.deleted)
	assert.Equal(t, []Shape{other}, d.Shapes())

	assert.ErrorIs(t, d.DeleteShape(frame.ID), ErrShapeNotFound)
}

func TestShapeAndDescendantIDs(t *testing.T) {
	d := newTestDoc(t, nil)
	frame := mustCreate(t, d, Shape{Type: TypeFrame})
	a := mustCreate(t, d, Shape{Type: TypeText, ParentID: frame.ID})
	inner := mustCreate(t, d, Shape{Type: TypeFrame, ParentID: frame.ID})
	b := mustCreate(t, d, Shape{Type: TypeText, ParentID: inner.ID})

	got := d.ShapeAndDescendantIDs([]ShapeID{frame.ID, a.ID, "shape:gone"})
	want := []ShapeID{frame.ID, a.ID, inner.ID, b.ID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("descendants mismatch (-want +got):\n%s", diff)
	}
}

func TestShapePageBounds(t *testing.T) {
	d := newTestDoc(t, nil)
	frame := mustCreate(t, d, Shape{Type: TypeFrame, X: 100, Y: 50})
	child := mustCreate(t, d, Shape{Type: TypeGeo, ParentID: frame.ID, X: 10, Y: 20, Props: Props{W: 30, H: 40}})
	arrow := mustCreate(t, d, Shape{Type: TypeArrow, X: 100, Y: 100, Props: Props{W: -50, H: -20}})

	b, ok := d.ShapePageBounds(child.ID)
	require.True(t, ok)
	assert.Equal(t, Box{X: 110, Y: 70, W: 30, H: 40}, b)

	b, ok = d.ShapePageBounds(arrow.ID)
	require.True(t, ok)
	assert.Equal(t, Box{X: 50, Y: 80, W: 50, H: 20}, b)

	union, ok := d.Bounds([]ShapeID{child.ID, arrow.ID})
	require.True(t, ok)
	assert.Equal(t, Box{X: 50, Y: 70, W: 90, H: 40}, union)

	_, ok = d.Bounds(nil)
	assert.False(t, ok)
}

func TestSVGExport(t *testing.T) {
	d := newTestDoc(t, nil)
	s := mustCreate(t, d, Shape{Type: TypeGeo, X: 10, Y: 10, Props: Props{W: 80, H: 40, Text: "a < b"}})

	svg, box, err := d.SVG(context.Background(), []ShapeID{s.ID}, SVGOptions{Background: true, Padding: 10})
	require.NoError(t, err)
	assert.Equal(t, Box{X: 0, Y: 0, W: 100, H: 60}, box)
	assert.True(t, strings.HasPrefix(svg, "<svg "))
	assert.Contains(t, svg, `fill="#f9fafb"`)
	assert.Contains(t, svg, `translate(10.00 10.00)`)
	assert.Contains(t, svg, "a &lt; b")

	dark, _, err := d.SVG(context.Background(), []ShapeID{s.ID}, SVGOptions{Background: true, DarkMode: true})
	require.NoError(t, err)
	assert.Contains(t, dark, `fill="#101011"`)

	_, _, err = d.SVG(context.Background(), nil, SVGOptions{})
	assert.Error(t, err)
}

func TestLoadDoesNotPersist(t *testing.T) {
	p := newMemPersister()
	d := newTestDoc(t, p)
	require.NoError(t, d.Load([]Shape{{ID: "shape:1", Type: TypeText, Props: Props{Text: "x"}}}))
	assert.Empty(t, p.saved)

	_, ok := d.Shape("shape:1")
	assert.True(t, ok)
	assert.ErrorIs(t, d.Load([]Shape{{ID: "shape:2", Type: "draw"}}), ErrUnknownType)
}
