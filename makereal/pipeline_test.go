package makereal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"make_real/canvas"
	"make_real/generator"
	"make_real/preview"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeRaster struct {
	mu     sync.Mutex
	err    error
	sizes  [][2]int
	format canvas.ImageFormat
}

func (f *fakeRaster) Rasterize(_ context.Context, svg string, w, h int, format canvas.ImageFormat) (canvas.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return canvas.Image{}, f.err
	}
	f.sizes = append(f.sizes, [2]int{w, h})
	f.format = format
	return canvas.Image{Data: []byte(svg), Format: format, Width: w, Height: h}, nil
}

type fakeLLM struct {
	resp    generator.Completion
	err     error
	prompts []generator.Prompt
	opts    []generator.Options
}

func (f *fakeLLM) Complete(_ context.Context, p generator.Prompt, o generator.Options) (generator.Completion, error) {
	f.prompts = append(f.prompts, p)
	f.opts = append(f.opts, o)
	return f.resp, f.err
}

func factoryFor(llm generator.LLMClient) generator.Factory {
	return func(string) (generator.LLMClient, error) { return llm, nil }
}

// recordingCanvas counts the shape mutations made through it.
type recordingCanvas struct {
	*canvas.Editor
	created []canvas.ShapeID
	updated []canvas.ShapeID
	deleted []canvas.ShapeID
}

func (r *recordingCanvas) CreateShape(s canvas.Shape) (canvas.Shape, error) {
	out, err := r.Editor.CreateShape(s)
	if err == nil {
		r.created = append(r.created, out.ID)
	}
	return out, err
}

func (r *recordingCanvas) UpdateShape(id canvas.ShapeID, fn func(p *canvas.Props)) (canvas.Shape, error) {
	r.updated = append(r.updated, id)
	return r.Editor.UpdateShape(id, fn)
}

func (r *recordingCanvas) DeleteShape(id canvas.ShapeID) error {
	r.deleted = append(r.deleted, id)
	return r.Editor.DeleteShape(id)
}

func newDoc(t *testing.T) *canvas.Document {
	t.Helper()
	reg, err := canvas.NewRegistry(preview.NewUtil(nil, nil))
	require.NoError(t, err)
	return canvas.NewDocument("test", reg, nil, nil)
}

func addShape(t *testing.T, doc *canvas.Document, s canvas.Shape) canvas.ShapeID {
	t.Helper()
	out, err := doc.CreateShape(s)
	require.NoError(t, err)
	return out.ID
}

func validDoc() string {
	return "<!DOCTYPE html><html><head><title>Login</title></head><body>" +
		strings.Repeat("<div class=\"p-4\">form</div>", 6) + "</body></html>"
}

func newFixture(t *testing.T, raster *fakeRaster, ids func(doc *canvas.Document) []canvas.ShapeID) (*recordingCanvas, *canvas.Document) {
	t.Helper()
	doc := newDoc(t)
	sel := ids(doc)
	ed := canvas.NewEditor(doc, raster, canvas.WithSelection(sel...))
	return &recordingCanvas{Editor: ed}, doc
}

func oneBox(t *testing.T) func(doc *canvas.Document) []canvas.ShapeID {
	return func(doc *canvas.Document) []canvas.ShapeID {
		return []canvas.ShapeID{addShape(t, doc, canvas.Shape{Type: canvas.TypeGeo, X: 100, Y: 200, Props: canvas.Props{W: 400, H: 300, Text: "Login"}})}
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunEmptySelection(t *testing.T) {
	c, doc := newFixture(t, &fakeRaster{}, func(*canvas.Document) []canvas.ShapeID { return nil })
	llm := &fakeLLM{}

	_, err := New(factoryFor(llm), nil).Run(context.Background(), c, Settings{})
	require.ErrorIs(t, err, ErrEmptySelection)
	assert.True(t, IsPrecondition(err))
	assert.Empty(t, c.created)
	assert.Empty(t, doc.Shapes())
	assert.Empty(t, llm.prompts)
}

func TestRunMultiplePreviousDocuments(t *testing.T) {
	c, _ := newFixture(t, &fakeRaster{}, func(doc *canvas.Document) []canvas.ShapeID {
		a := addShape(t, doc, canvas.Shape{Type: canvas.TypeResponse, Props: canvas.Props{HTML: validDoc()}})
		b := addShape(t, doc, canvas.Shape{Type: canvas.TypeResponse, X: 700, Props: canvas.Props{HTML: validDoc()}})
		return []canvas.ShapeID{a, b}
	})

	_, err := New(factoryFor(&fakeLLM{}), nil).Run(context.Background(), c, Settings{})
	require.ErrorIs(t, err, ErrMultiplePrevious)
	assert.Empty(t, c.created)
	assert.Empty(t, c.deleted)
}

func TestRunMissingClient(t *testing.T) {
	c, _ := newFixture(t, &fakeRaster{}, oneBox(t))
	factory := func(string) (generator.LLMClient, error) { return nil, errors.New("api key missing") }

	_, err := New(factory, nil).Run(context.Background(), c, Settings{})
	require.ErrorIs(t, err, ErrNoClient)
	assert.Empty(t, c.created)
}

func TestRunSuccess(t *testing.T) {
	raster := &fakeRaster{}
	c, doc := newFixture(t, raster, oneBox(t))
	llm := &fakeLLM{resp: generator.Completion{Model: "gpt-4o", Choices: []string{"Sure!\n" + validDoc() + "\nEnjoy."}}}

	var states []State
	p := New(factoryFor(llm), nil, WithObserver(func(_ canvas.ShapeID, s State) { states = append(states, s) }))
	id, err := p.Run(context.Background(), c, Settings{APIKey: "k"})
	require.NoError(t, err)

	require.Equal(t, []canvas.ShapeID{id}, c.created)
	require.Equal(t, []canvas.ShapeID{id}, c.updated)
	assert.Empty(t, c.deleted)
	assert.Equal(t, []State{Validating, Capturing, Prompting, Requesting, Parsing, Committed}, states)

	s, ok := doc.Shape(id)
	require.True(t, ok)
	assert.Equal(t, canvas.TypeResponse, s.Type)
	assert.Equal(t, validDoc(), s.Props.HTML)
	assert.Equal(t, 100.0+400+DefaultOffset, s.X)
	assert.Equal(t, 200.0+150-float64(preview.DefaultHeight)/2, s.Y)
	assert.Equal(t, float64(preview.DefaultWidth), s.Props.W)

	assert.Equal(t, canvas.FormatJPEG, raster.format)
	require.Len(t, llm.opts, 1)
	assert.Equal(t, 0.0, llm.opts[0].Temperature)
	assert.Equal(t, generator.DefaultMaxTokens, llm.opts[0].MaxTokens)

	parts := llm.prompts[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, generator.PartImage, parts[0].Kind)
	assert.True(t, strings.HasPrefix(parts[0].ImageURL, "data:image/jpeg;base64,"))
	assert.Equal(t, generator.Instruction, parts[1].Text)
	assert.Contains(t, parts[2].Text, "Login")
}

func TestRunScalesLargeSelection(t *testing.T) {
	raster := &fakeRaster{}
	c, _ := newFixture(t, raster, func(doc *canvas.Document) []canvas.ShapeID {
		return []canvas.ShapeID{addShape(t, doc, canvas.Shape{Type: canvas.TypeGeo, Props: canvas.Props{W: 4000, H: 1000}})}
	})
	llm := &fakeLLM{resp: generator.Completion{Choices: []string{validDoc()}}}

	_, err := New(factoryFor(llm), nil).Run(context.Background(), c, Settings{})
	require.NoError(t, err)
	require.Len(t, raster.sizes, 1)
	// 4000 wide at scale 0.25; export padding is scaled along with it.
	assert.LessOrEqual(t, raster.sizes[0][0], 1000+16)
	assert.LessOrEqual(t, raster.sizes[0][1], 1000)
}

func TestRunIncludesPreviousDocument(t *testing.T) {
	prev := validDoc()
	c, _ := newFixture(t, &fakeRaster{}, func(doc *canvas.Document) []canvas.ShapeID {
		box := addShape(t, doc, canvas.Shape{Type: canvas.TypeGeo, Props: canvas.Props{W: 100, H: 100}})
		p := addShape(t, doc, canvas.Shape{Type: canvas.TypeResponse, X: 200, Props: canvas.Props{HTML: prev}})
		return []canvas.ShapeID{box, p}
	})
	llm := &fakeLLM{resp: generator.Completion{Choices: []string{validDoc()}}}

	_, err := New(factoryFor(llm), nil).Run(context.Background(), c, Settings{})
	require.NoError(t, err)
	parts := llm.prompts[0].Parts
	require.Len(t, parts, 3)
	assert.True(t, strings.HasSuffix(parts[2].Text, prev))
}

func TestRunFailuresDeletePreview(t *testing.T) {
	tests := []struct {
		name    string
		raster  *fakeRaster
		llm     *fakeLLM
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "provider error",
			raster: &fakeRaster{},
			llm:    &fakeLLM{err: &generator.ProviderError{Code: "rate_limit", Message: "Rate limit reached", Status: 429}},
			checkFn: func(t *testing.T, err error) {
				var pe *generator.ProviderError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "Rate limit reached...", err.Error())
			},
		},
		{
			name:   "transport error",
			raster: &fakeRaster{},
			llm:    &fakeLLM{err: &generator.TransportError{Err: errors.New("dial tcp: connection refused")}},
			checkFn: func(t *testing.T, err error) {
				var te *generator.TransportError
				require.ErrorAs(t, err, &te)
			},
		},
		{
			name:   "prose reply",
			raster: &fakeRaster{},
			llm:    &fakeLLM{resp: generator.Completion{Choices: []string{"I cannot turn this into a website, sorry."}}},
			checkFn: func(t *testing.T, err error) {
				var ce *generator.ContentError
				require.ErrorAs(t, err, &ce)
			},
		},
		{
			name:   "short document",
			raster: &fakeRaster{},
			llm:    &fakeLLM{resp: generator.Completion{Choices: []string{"<!DOCTYPE html><html></html>"}}},
			checkFn: func(t *testing.T, err error) {
				var ce *generator.ContentError
				require.ErrorAs(t, err, &ce)
			},
		},
		{
			name:   "no choices",
			raster: &fakeRaster{},
			llm:    &fakeLLM{resp: generator.Completion{}},
			checkFn: func(t *testing.T, err error) {
				var pe *generator.ProviderError
				require.ErrorAs(t, err, &pe)
			},
		},
		{
			name:   "rasterization failure",
			raster: &fakeRaster{err: errors.New("chrome crashed")},
			llm:    &fakeLLM{},
			checkFn: func(t *testing.T, err error) {
				var ce *CaptureError
				require.ErrorAs(t, err, &ce)
				assert.False(t, IsPrecondition(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, doc := newFixture(t, tt.raster, oneBox(t))

			var last State
			p := New(factoryFor(tt.llm), nil, WithObserver(func(_ canvas.ShapeID, s State) { last = s }))
			id, err := p.Run(context.Background(), c, Settings{})
			require.Error(t, err)
			tt.checkFn(t, err)

			require.Len(t, c.created, 1)
			assert.Equal(t, c.created[0], id, "failed run reports the discarded preview")
			assert.Equal(t, c.created, c.deleted)
			assert.Empty(t, c.updated)
			assert.Equal(t, Failed, last)
			assert.Len(t, doc.Shapes(), 1, "only the wireframe remains")
		})
	}
}

// noBoundsCanvas reports a selection whose page bounds cannot be measured.
type noBoundsCanvas struct {
	*recordingCanvas
}

func (noBoundsCanvas) SelectionPageBounds() (canvas.Box, bool) { return canvas.Box{}, false }

func TestRunMissingSelectionBounds(t *testing.T) {
	rc, doc := newFixture(t, &fakeRaster{}, oneBox(t))
	c := noBoundsCanvas{recordingCanvas: rc}
	llm := &fakeLLM{}

	id, err := New(factoryFor(llm), nil).Run(context.Background(), c, Settings{})
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "could not get bounds of selection", err.Error())
	assert.Empty(t, id)
	assert.Empty(t, rc.created)
	assert.Empty(t, rc.deleted)
	assert.Empty(t, llm.prompts)
	assert.Len(t, doc.Shapes(), 1)
}

func TestRunTwiceCreatesIndependentPreviews(t *testing.T) {
	c, doc := newFixture(t, &fakeRaster{}, oneBox(t))
	llm := &fakeLLM{resp: generator.Completion{Choices: []string{validDoc()}}}
	p := New(factoryFor(llm), nil)

	first, err := p.Run(context.Background(), c, Settings{})
	require.NoError(t, err)
	before, _ := doc.Shape(first)

	llm.resp = generator.Completion{Choices: []string{strings.Replace(validDoc(), "Login", "Sign up", 1)}}
	second, err := p.Run(context.Background(), c, Settings{})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	after, _ := doc.Shape(first)
	assert.Equal(t, before, after)
	assert.Len(t, doc.Shapes(), 3)
}

func TestErrorToastTruncates(t *testing.T) {
	toast := ErrorToast(errors.New(strings.Repeat("x", 300)))
	assert.Equal(t, "Something went wrong", toast.Title)
	assert.Len(t, toast.Description, 100)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "requesting", Requesting.String())
	assert.Equal(t, "unknown", State(42).String())
}
