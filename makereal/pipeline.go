// Package makereal turns a canvas selection into a generated HTML document
// held by a preview shape.
package makereal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"make_real/canvas"
	"make_real/generator"
	"make_real/preview"
)

const (
	// DefaultMaxImageSize caps both raster dimensions, in canvas units.
	DefaultMaxImageSize = 1000
	// DefaultOffset is the gap between the selection and the new preview.
	DefaultOffset = 60
)

var (
	ErrEmptySelection   = errors.New("first select something to make real")
	ErrMultiplePrevious = errors.New("you can only have one previous design selected")
	ErrNoClient         = errors.New("could not create a model client")
)

// CaptureError is a failure to measure or rasterize the selection.
type CaptureError struct {
	Msg string
	Err error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err was raised before any shape was created.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrEmptySelection) || errors.Is(err, ErrMultiplePrevious) || errors.Is(err, ErrNoClient)
}

// Canvas is the subset of host engine capabilities the pipeline consumes.
// *canvas.Editor implements it.
type Canvas interface {
	SelectedShapes() []canvas.Shape
	SelectedShapeIDs() []canvas.ShapeID
	SelectionPageBounds() (canvas.Box, bool)
	ToImage(ctx context.Context, shapes []canvas.Shape, opts canvas.ImageOptions) (canvas.Image, error)
	CreateShape(s canvas.Shape) (canvas.Shape, error)
	UpdateShape(id canvas.ShapeID, fn func(p *canvas.Props)) (canvas.Shape, error)
	DeleteShape(id canvas.ShapeID) error
	ShapeAndDescendantIDs(ids []canvas.ShapeID) []canvas.ShapeID
	Shape(id canvas.ShapeID) (canvas.Shape, bool)
	ShapePageBounds(id canvas.ShapeID) (canvas.Box, bool)
	Text(s canvas.Shape) (string, bool)
	UserPreferences() canvas.Preferences
}

// Settings are per-invocation values supplied by the caller.
type Settings struct {
	APIKey string
}

// Pipeline runs make-real invocations. It holds no per-run state, so one
// Pipeline may serve concurrent runs; each creates its own shape.
type Pipeline struct {
	newLLM       generator.Factory
	logger       *slog.Logger
	maxTokens    int
	maxImageSize float64
	offset       float64
	observer     func(id canvas.ShapeID, s State)
}

type Option func(*Pipeline)

func WithMaxTokens(n int) Option { return func(p *Pipeline) { p.maxTokens = n } }

func WithMaxImageSize(px float64) Option { return func(p *Pipeline) { p.maxImageSize = px } }

// WithObserver is called on every state transition.
func WithObserver(fn func(id canvas.ShapeID, s State)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

func New(factory generator.Factory, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		newLLM:       factory,
		logger:       logger,
		maxTokens:    generator.DefaultMaxTokens,
		maxImageSize: DefaultMaxImageSize,
		offset:       DefaultOffset,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) enter(id canvas.ShapeID, s State) {
	p.logger.Debug("make real", "state", s.String(), "shape", id)
	if p.observer != nil {
		p.observer(id, s)
	}
}

// Run executes one invocation and returns the id of the populated preview.
// On any failure after the preview was created, the preview is deleted and
// its id is returned with the error, so callers can record which preview
// was discarded. Failures before creation return an empty id.
func (p *Pipeline) Run(ctx context.Context, c Canvas, settings Settings) (canvas.ShapeID, error) {
	p.enter("", Validating)
	selected := c.SelectedShapes()
	if len(selected) == 0 {
		return "", ErrEmptySelection
	}
	previous, err := previousDocument(selected)
	if err != nil {
		return "", err
	}
	llm, err := p.newLLM(settings.APIKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoClient, err)
	}

	bounds, ok := c.SelectionPageBounds()
	if !ok {
		return "", &CaptureError{Msg: "could not get bounds of selection"}
	}

	id := canvas.NewShapeID()
	p.enter(id, Capturing)
	if _, err := c.CreateShape(canvas.Shape{
		ID:   id,
		Type: canvas.TypeResponse,
		X:    bounds.MaxX() + p.offset,
		Y:    bounds.MidY() - preview.DefaultHeight/2,
		Props: canvas.Props{
			HTML: "",
		},
	}); err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}

	if err := p.populate(ctx, c, llm, id, selected, bounds, previous); err != nil {
		p.enter(id, Failed)
		if delErr := c.DeleteShape(id); delErr != nil {
			p.logger.Error("make real: delete preview after failure", "shape", id, "error", delErr)
		}
		return id, err
	}
	return id, nil
}

func (p *Pipeline) populate(ctx context.Context, c Canvas, llm generator.LLMClient, id canvas.ShapeID,
	selected []canvas.Shape, bounds canvas.Box, previous string) error {
	scale := math.Min(1, math.Min(p.maxImageSize/bounds.W, p.maxImageSize/bounds.H))
	img, err := c.ToImage(ctx, selected, canvas.ImageOptions{
		Scale:      scale,
		Format:     canvas.FormatJPEG,
		Background: true,
	})
	if err != nil {
		return &CaptureError{Msg: "could not get an image of the selection", Err: err}
	}
	text := TextFromSelection(c)

	p.enter(id, Prompting)
	theme := "light"
	if c.UserPreferences().IsDarkMode {
		theme = "dark"
	}
	prompt := generator.BuildPrompt(generator.PromptInput{
		Image:    img.DataURI(),
		Text:     text,
		Previous: previous,
		Theme:    theme,
	})

	p.enter(id, Requesting)
	resp, err := llm.Complete(ctx, prompt, generator.Options{MaxTokens: p.maxTokens, Temperature: 0})
	if err != nil {
		return err
	}

	p.enter(id, Parsing)
	if len(resp.Choices) == 0 {
		return &generator.ProviderError{Message: generator.ErrEmptyChoices.Error()}
	}
	doc, err := generator.ExtractDocument(resp.Choices[0])
	if err != nil {
		p.logger.Warn("make real: unusable response", "shape", id, "model", resp.Model, "response", resp.Choices[0])
		return err
	}

	if _, err := c.UpdateShape(id, func(props *canvas.Props) { props.HTML = doc }); err != nil {
		return fmt.Errorf("update preview: %w", err)
	}
	p.enter(id, Committed)
	p.logger.Debug("make real: response", "shape", id, "model", resp.Model, "response", resp.Choices[0])
	return nil
}

// previousDocument returns the payload of the single selected preview, if any.
func previousDocument(selected []canvas.Shape) (string, error) {
	var prev []canvas.Shape
	for _, s := range selected {
		if s.Type == canvas.TypeResponse {
			prev = append(prev, s)
		}
	}
	switch len(prev) {
	case 0:
		return "", nil
	case 1:
		return prev[0].Props.HTML, nil
	default:
		return "", ErrMultiplePrevious
	}
}
