package canvas

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

// ShapeID 形如 "shape:<uuid>"，每次创建都重新生成。
type ShapeID string

// NewShapeID returns a fresh shape identifier.
func NewShapeID() ShapeID {
	return ShapeID("shape:" + uuid.NewString())
}

// ShapeType is the variant tag of a shape. The set is closed; see Registry.
type ShapeType string

const (
	TypeText     ShapeType = "text"
	TypeGeo      ShapeType = "geo"
	TypeArrow    ShapeType = "arrow"
	TypeNote     ShapeType = "note"
	TypeFrame    ShapeType = "frame"
	TypeResponse ShapeType = "response"
)

// Color 使用 tldraw 调色板名称。
type Color string

const (
	ColorBlack  Color = "black"
	ColorGrey   Color = "grey"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorOrange Color = "orange"
	ColorViolet Color = "violet"
)

// Props holds the variant-specific fields of a shape. Unused fields stay zero.
type Props struct {
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Text  string  `json:"text,omitempty"`
	Color Color   `json:"color,omitempty"`
	Fill  string  `json:"fill,omitempty"`
	Geo   string  `json:"geo,omitempty"`
	HTML  string  `json:"html,omitempty"`
}

// Shape is one record of a canvas document. X/Y are relative to ParentID;
// an empty ParentID means the page.
type Shape struct {
	ID       ShapeID   `json:"id"`
	Type     ShapeType `json:"type"`
	ParentID ShapeID   `json:"parent_id,omitempty"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Props    Props     `json:"props"`
}

// Box is an axis-aligned rectangle in page space.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b Box) MaxX() float64 { return b.X + b.W }
func (b Box) MaxY() float64 { return b.Y + b.H }
func (b Box) MidX() float64 { return b.X + b.W/2 }
func (b Box) MidY() float64 { return b.Y + b.H/2 }

// Union returns the smallest box containing both b and o.
func (b Box) Union(o Box) Box {
	minX := math.Min(b.X, o.X)
	minY := math.Min(b.Y, o.Y)
	maxX := math.Max(b.MaxX(), o.MaxX())
	maxY := math.Max(b.MaxY(), o.MaxY())
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Preferences 是当前用户的显示偏好。
type Preferences struct {
	IsDarkMode bool `json:"is_dark_mode"`
}

// Toast is a transient notification surfaced to the user.
type Toast struct {
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

var (
	ErrShapeNotFound  = errors.New("shape not found")
	ErrDuplicateShape = errors.New("shape id already exists")
	ErrUnknownType    = errors.New("unknown shape type")
)
