// Package preview implements the canvas shape that displays a generated
// HTML document inside a sandboxed frame.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"log/slog"

	"make_real/canvas"
)

const (
	DefaultWidth  = 960 * 2 / 3
	DefaultHeight = 540 * 2 / 3
)

// Capturer performs the snapshot round-trip for one shape.
type Capturer interface {
	Capture(ctx context.Context, shapeID string) (dataURI string, ok bool)
}

// Util is the canvas.ShapeUtil of the "response" variant.
type Util struct {
	capture Capturer
	logger  *slog.Logger
}

// NewUtil builds the preview variant. capture may be nil, in which case
// static export always yields an empty group.
func NewUtil(capture Capturer, logger *slog.Logger) *Util {
	if logger == nil {
		logger = slog.Default()
	}
	return &Util{capture: capture, logger: logger}
}

func (u *Util) Type() canvas.ShapeType { return canvas.TypeResponse }

func (u *Util) DefaultProps() canvas.Props {
	return canvas.Props{HTML: "", W: DefaultWidth, H: DefaultHeight}
}

func (u *Util) Capabilities() canvas.Capabilities {
	return canvas.Capabilities{
		CanEdit:           true,
		CanResize:         true,
		CanBind:           false,
		CanUnmount:        false,
		AspectRatioLocked: false,
	}
}

func (u *Util) Indicator(s *canvas.Shape) string {
	return fmt.Sprintf(`<rect width="%.2f" height="%.2f"/>`, s.Props.W, s.Props.H)
}

// ToSVG embeds a screenshot of the live frame. It never returns an error:
// without a frame or a timely reply the group is empty.
func (u *Util) ToSVG(ctx context.Context, s *canvas.Shape) (string, error) {
	if u.capture == nil {
		return "<g></g>", nil
	}
	dataURI, ok := u.capture.Capture(ctx, string(s.ID))
	if !ok {
		return "<g></g>", nil
	}
	return fmt.Sprintf(`<g><image href="%s" xlink:href="%s" width="%.2f" height="%.2f"/></g>`,
		html.EscapeString(dataURI), html.EscapeString(dataURI), s.Props.W, s.Props.H), nil
}

// Copy 返回要写入剪贴板的原始 payload 和确认提示。
func (u *Util) Copy(s *canvas.Shape) (string, canvas.Toast) {
	return s.Props.HTML, canvas.Toast{Icon: "duplicate", Title: "Copied to clipboard"}
}

var shapeTmpl = template.Must(template.New("preview").Parse(
	`<div class="tl-embed-container" id="{{.ID}}" style="position:relative;width:{{.W}}px;height:{{.H}}px">
{{- if .Pending}}
<div class="preview-pending" style="width:100%;height:100%;background-color:var(--color-muted-2, #f1f3f5);display:flex;align-items:center;justify-content:center;border:1px solid var(--color-muted-1, #dee2e6)"><div class="spinner" role="status" aria-label="loading"></div></div>
{{- else}}
<iframe class="tl-embed" id="iframe-{{.ID}}" srcdoc="{{.Doc}}" sandbox="allow-scripts allow-forms allow-popups allow-modals" width="{{.W}}" height="{{.H}}" draggable="false" style="border:0;pointer-events:{{.Pointer}}"></iframe>
{{- end}}
<div class="preview-copy" data-shape-id="{{.ID}}" title="Copy HTML" style="position:absolute;top:0;right:-40px;height:40px;width:40px;display:flex;align-items:center;justify-content:center;cursor:pointer;pointer-events:all" onpointerdown="event.stopPropagation()">&#x2398;</div>
</div>`))

type renderData struct {
	ID      string
	W, H    string
	Pending bool
	Doc     string
	Pointer string
}

// Render returns the visual tree of the shape as an HTML fragment. Pointer
// input reaches the frame only while the shape is being edited.
func (u *Util) Render(s *canvas.Shape, editing bool) (template.HTML, error) {
	data := renderData{
		ID:      string(s.ID),
		W:       fmt.Sprintf("%.0f", s.Props.W),
		H:       fmt.Sprintf("%.0f", s.Props.H),
		Pending: s.Props.HTML == "",
		Pointer: "none",
	}
	if editing {
		data.Pointer = "auto"
	}
	if !data.Pending {
		data.Doc = PreparePayload(data.ID, s.Props.HTML)
	}
	var buf bytes.Buffer
	if err := shapeTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render preview %s: %w", s.ID, err)
	}
	return template.HTML(buf.String()), nil
}
