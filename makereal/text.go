package makereal

import (
	"sort"
	"strings"

	"make_real/canvas"
)

// AnnotationPrefix marks red text, the convention for requested changes.
const AnnotationPrefix = "Annotation: "

// TextFromSelection collects the labels of all text-bearing shapes in the
// selection (descendants included) in reading order: top to bottom, then
// left to right.
func TextFromSelection(c Canvas) string {
	type labeled struct {
		shape canvas.Shape
		text  string
		box   canvas.Box
		ok    bool
	}

	var items []labeled
	for _, id := range c.ShapeAndDescendantIDs(c.SelectedShapeIDs()) {
		s, found := c.Shape(id)
		if !found {
			continue
		}
		text, ok := c.Text(s)
		if !ok {
			continue
		}
		box, hasBox := c.ShapePageBounds(id)
		items = append(items, labeled{shape: s, text: text, box: box, ok: hasBox})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.ok || !b.ok {
			return false
		}
		if a.box.Y == b.box.Y {
			return a.box.X < b.box.X
		}
		return a.box.Y < b.box.Y
	})

	lines := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.text) == "" {
			continue
		}
		if it.shape.Props.Color == canvas.ColorRed {
			lines = append(lines, AnnotationPrefix+it.text)
			continue
		}
		lines = append(lines, it.text)
	}
	return strings.Join(lines, "\n")
}
