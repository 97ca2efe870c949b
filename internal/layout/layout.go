// File: internal/layout/layout.go

// Package layout normalizes raw uiautomator captures into a tree of typed,
// boundable, clickable elements with computed center points.
package layout

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// maxDepth caps tree recursion; uiautomator hierarchies are rarely deeper
// than a few dozen levels, anything beyond this is dropped.
const maxDepth = 64

// boundsRegex extracts the four corners from a "[l,t][r,b]" bounds attribute.
var boundsRegex = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// Parse converts a raw uiautomator XML dump into an Element tree, depth-first,
// preserving child order. It returns schemas.ErrMalformedCapture when the
// document has no root node.
func Parse(rawXML string) (*schemas.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(sanitize(rawXML)); err != nil {
		return nil, err
	}

	root := doc.Root()
	if root == nil {
		return nil, schemas.ErrMalformedCapture
	}

	// A dump is wrapped in <hierarchy>; descend to its node children. Some
	// captures carry the node directly at the top level.
	if root.Tag == "hierarchy" {
		nodes := root.SelectElements("node")
		switch len(nodes) {
		case 0:
			return nil, schemas.ErrMalformedCapture
		case 1:
			return buildElement(nodes[0], 0), nil
		default:
			// Multiple top-level nodes: synthesize a zero-bounds container
			// so the result stays a single tree.
			container := &schemas.Element{Type: "android.view.View", Depth: 0}
			for _, n := range nodes {
				container.Children = append(container.Children, buildElement(n, 1))
			}
			return container, nil
		}
	}
	return buildElement(root, 0), nil
}

// buildElement converts one XML node and its subtree recursively.
func buildElement(el *etree.Element, depth int) *schemas.Element {
	e := &schemas.Element{
		Type:               el.SelectAttrValue("class", ""),
		ResourceID:         el.SelectAttrValue("resource-id", ""),
		Text:               el.SelectAttrValue("text", ""),
		AccessibilityLabel: el.SelectAttrValue("content-desc", ""),
		Clickable:          el.SelectAttrValue("clickable", "") == "true",
		Bounds:             ParseBounds(el.SelectAttrValue("bounds", "")),
		Depth:              depth,
	}

	if depth >= maxDepth {
		return e
	}
	for _, child := range el.SelectElements("node") {
		e.Children = append(e.Children, buildElement(child, depth+1))
	}
	return e
}

// ParseBounds extracts a Bounds record from a "[l,t][r,b]" string. Malformed
// or missing input yields an all-zero Bounds, never an error. Center points
// are the floor of the axis midpoints.
func ParseBounds(s string) schemas.Bounds {
	m := boundsRegex.FindStringSubmatch(s)
	if m == nil {
		return schemas.Bounds{}
	}
	left, _ := strconv.Atoi(m[1])
	top, _ := strconv.Atoi(m[2])
	right, _ := strconv.Atoi(m[3])
	bottom, _ := strconv.Atoi(m[4])
	return schemas.Bounds{
		Left:    left,
		Top:     top,
		Right:   right,
		Bottom:  bottom,
		CenterX: floorMid(left, right),
		CenterY: floorMid(top, bottom),
		Width:   right - left,
		Height:  bottom - top,
	}
}

// floorMid returns floor((a+b)/2). Go's integer division truncates toward
// zero, which differs from floor for negative odd sums; off-screen elements
// carry negative bounds, so the distinction matters.
func floorMid(a, b int) int {
	sum := a + b
	half := sum / 2
	if sum < 0 && sum%2 != 0 {
		half--
	}
	return half
}

// Query selects clickable elements by exact field match. Zero-value fields
// are wildcards.
type Query struct {
	Text               string
	AccessibilityLabel string
	ResourceID         string
	Type               string
}

// FindClickable walks the tree in pre-order and returns every clickable
// element matching all set query fields. Traversal is iterative to stay
// stack-safe on deep hierarchies.
func FindClickable(root *schemas.Element, q Query) []*schemas.Element {
	if root == nil {
		return nil
	}

	var found []*schemas.Element
	stack := []*schemas.Element{root}
	for len(stack) > 0 {
		el := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if el.Clickable && matches(el, q) {
			found = append(found, el)
		}
		// Push children in reverse so pre-order visits them left to right.
		for i := len(el.Children) - 1; i >= 0; i-- {
			stack = append(stack, el.Children[i])
		}
	}
	return found
}

func matches(el *schemas.Element, q Query) bool {
	if q.Text != "" && el.Text != q.Text {
		return false
	}
	if q.AccessibilityLabel != "" && el.AccessibilityLabel != q.AccessibilityLabel {
		return false
	}
	if q.ResourceID != "" && el.ResourceID != q.ResourceID {
		return false
	}
	if q.Type != "" && el.Type != q.Type {
		return false
	}
	return true
}

// sanitize strips the shell noise adb leaves around a dump and repairs the
// bare ampersands uiautomator emits in attribute values.
func sanitize(raw string) string {
	if i := strings.Index(raw, "<?xml"); i > 0 {
		raw = raw[i:]
	}
	if i := strings.LastIndex(raw, ">"); i != -1 && i < len(raw)-1 {
		raw = raw[:i+1]
	}

	// Escape every & first, then undo the double escapes this creates for
	// entities that were already well-formed.
	raw = strings.ReplaceAll(raw, "&", "&amp;")
	for _, entity := range []string{"amp", "lt", "gt", "quot", "apos", "#"} {
		raw = strings.ReplaceAll(raw, "&amp;"+entity, "&"+entity)
	}
	return raw
}
