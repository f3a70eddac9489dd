package canvas

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
)

// Capabilities are fixed per variant, not per instance.
type Capabilities struct {
	CanEdit           bool
	CanResize         bool
	CanBind           bool
	CanUnmount        bool
	AspectRatioLocked bool
}

// ShapeUtil implements the behavior of one shape variant.
type ShapeUtil interface {
	Type() ShapeType
	DefaultProps() Props
	Capabilities() Capabilities
	// ToSVG renders the shape in its own coordinate space (origin at X/Y).
	ToSVG(ctx context.Context, s *Shape) (string, error)
	Indicator(s *Shape) string
}

// TextUtil is implemented by text-bearing variants only.
type TextUtil interface {
	Text(s *Shape) string
}

// Registry maps each shape type to exactly one util.
type Registry struct {
	mu    sync.RWMutex
	utils map[ShapeType]ShapeUtil
}

// NewRegistry returns a registry holding the built-in variants plus extra.
func NewRegistry(extra ...ShapeUtil) (*Registry, error) {
	r := &Registry{utils: make(map[ShapeType]ShapeUtil)}
	builtins := []ShapeUtil{textUtil{}, geoUtil{}, arrowUtil{}, noteUtil{}, frameUtil{}}
	for _, u := range append(builtins, extra...) {
		if err := r.Register(u); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(u ShapeUtil) error {
	if u == nil || u.Type() == "" {
		return fmt.Errorf("register shape util: %w", ErrUnknownType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.utils[u.Type()]; ok {
		return fmt.Errorf("shape util %q already registered", u.Type())
	}
	r.utils[u.Type()] = u
	return nil
}

func (r *Registry) Util(t ShapeType) (ShapeUtil, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.utils[t]
	return u, ok
}

// --- built-in variants ---

var palette = map[Color]string{
	ColorBlack:  "#1d1d1d",
	ColorGrey:   "#9fa8b2",
	ColorBlue:   "#4465e9",
	ColorRed:    "#e03131",
	ColorGreen:  "#099268",
	ColorOrange: "#e16919",
	ColorViolet: "#ae3ec9",
}

func strokeOf(c Color) string {
	if v, ok := palette[c]; ok {
		return v
	}
	return palette[ColorBlack]
}

func svgText(text string, x, y float64, color Color, anchor string) string {
	if text == "" {
		return ""
	}
	var sb strings.Builder
	for i, line := range strings.Split(text, "\n") {
		sb.WriteString(fmt.Sprintf(`<text x="%.2f" y="%.2f" fill="%s" font-family="sans-serif" font-size="22" text-anchor="%s">%s</text>`,
			x, y+float64(i)*26, strokeOf(color), anchor, html.EscapeString(line)))
	}
	return sb.String()
}

func rectIndicator(s *Shape) string {
	return fmt.Sprintf(`<rect width="%.2f" height="%.2f"/>`, s.Props.W, s.Props.H)
}

type textUtil struct{}

func (textUtil) Type() ShapeType { return TypeText }
func (textUtil) DefaultProps() Props {
	return Props{W: 200, H: 40, Color: ColorBlack}
}
func (textUtil) Capabilities() Capabilities {
	return Capabilities{CanEdit: true, CanResize: true, CanUnmount: true}
}
func (textUtil) ToSVG(_ context.Context, s *Shape) (string, error) {
	return svgText(s.Props.Text, 0, 22, s.Props.Color, "start"), nil
}
func (textUtil) Indicator(s *Shape) string { return rectIndicator(s) }
func (textUtil) Text(s *Shape) string      { return s.Props.Text }

type geoUtil struct{}

func (geoUtil) Type() ShapeType { return TypeGeo }
func (geoUtil) DefaultProps() Props {
	return Props{W: 100, H: 100, Color: ColorBlack, Fill: "none", Geo: "rectangle"}
}
func (geoUtil) Capabilities() Capabilities {
	return Capabilities{CanEdit: true, CanResize: true, CanBind: true, CanUnmount: true}
}
func (geoUtil) ToSVG(_ context.Context, s *Shape) (string, error) {
	p := s.Props
	fill := "none"
	if p.Fill != "" && p.Fill != "none" {
		fill = strokeOf(p.Color)
	}
	var shape string
	switch p.Geo {
	case "ellipse":
		shape = fmt.Sprintf(`<ellipse cx="%.2f" cy="%.2f" rx="%.2f" ry="%.2f" stroke="%s" stroke-width="3" fill="%s" fill-opacity="0.2"/>`,
			p.W/2, p.H/2, p.W/2, p.H/2, strokeOf(p.Color), fill)
	default:
		shape = fmt.Sprintf(`<rect width="%.2f" height="%.2f" stroke="%s" stroke-width="3" fill="%s" fill-opacity="0.2"/>`,
			p.W, p.H, strokeOf(p.Color), fill)
	}
	return shape + svgText(p.Text, p.W/2, p.H/2, p.Color, "middle"), nil
}
func (geoUtil) Indicator(s *Shape) string { return rectIndicator(s) }
func (geoUtil) Text(s *Shape) string      { return s.Props.Text }

// arrowUtil draws from the shape origin to (W, H); the label sits at the midpoint.
type arrowUtil struct{}

func (arrowUtil) Type() ShapeType { return TypeArrow }
func (arrowUtil) DefaultProps() Props {
	return Props{W: 100, H: 0, Color: ColorBlack}
}
func (arrowUtil) Capabilities() Capabilities {
	return Capabilities{CanEdit: true, CanBind: true, CanUnmount: true}
}
func (arrowUtil) ToSVG(_ context.Context, s *Shape) (string, error) {
	p := s.Props
	line := fmt.Sprintf(`<line x1="0" y1="0" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="3"/>`,
		p.W, p.H, strokeOf(p.Color))
	return line + svgText(p.Text, p.W/2, p.H/2, p.Color, "middle"), nil
}
func (arrowUtil) Indicator(s *Shape) string {
	return fmt.Sprintf(`<line x1="0" y1="0" x2="%.2f" y2="%.2f"/>`, s.Props.W, s.Props.H)
}
func (arrowUtil) Text(s *Shape) string { return s.Props.Text }

type noteUtil struct{}

func (noteUtil) Type() ShapeType { return TypeNote }
func (noteUtil) DefaultProps() Props {
	return Props{W: 200, H: 200, Color: ColorBlack}
}
func (noteUtil) Capabilities() Capabilities {
	return Capabilities{CanEdit: true, CanUnmount: true, AspectRatioLocked: true}
}
func (noteUtil) ToSVG(_ context.Context, s *Shape) (string, error) {
	p := s.Props
	bg := fmt.Sprintf(`<rect width="%.2f" height="%.2f" rx="6" fill="#fddd72"/>`, p.W, p.H)
	return bg + svgText(p.Text, p.W/2, p.H/2, p.Color, "middle"), nil
}
func (noteUtil) Indicator(s *Shape) string { return rectIndicator(s) }
func (noteUtil) Text(s *Shape) string      { return s.Props.Text }

// frameUtil groups children; its Text is the frame name and is not extracted.
type frameUtil struct{}

func (frameUtil) Type() ShapeType { return TypeFrame }
func (frameUtil) DefaultProps() Props {
	return Props{W: 320, H: 240}
}
func (frameUtil) Capabilities() Capabilities {
	return Capabilities{CanEdit: true, CanResize: true, CanUnmount: true}
}
func (frameUtil) ToSVG(_ context.Context, s *Shape) (string, error) {
	return fmt.Sprintf(`<rect width="%.2f" height="%.2f" stroke="%s" stroke-width="1" fill="#ffffff"/>`,
		s.Props.W, s.Props.H, palette[ColorGrey]), nil
}
func (frameUtil) Indicator(s *Shape) string { return rectIndicator(s) }
