// File: api/schemas/element.go
package schemas

// Bounds is the on-screen rectangle of an element in device pixels. Center
// points are derived as the floor of the midpoint of each axis. A zero Bounds
// is the documented result of an unparsable bounds attribute.
type Bounds struct {
	Left    int `json:"left"`
	Top     int `json:"top"`
	Right   int `json:"right"`
	Bottom  int `json:"bottom"`
	CenterX int `json:"centerX"`
	CenterY int `json:"centerY"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// Element is a node in the parsed on-screen UI structure. Children preserve
// the order of the underlying capture.
type Element struct {
	Type               string     `json:"type"`
	ResourceID         string     `json:"resourceId"`
	Text               string     `json:"text"`
	AccessibilityLabel string     `json:"accessibilityLabel"`
	Clickable          bool       `json:"clickable"`
	Bounds             Bounds     `json:"bounds"`
	Depth              int        `json:"depth"`
	Children           []*Element `json:"children,omitempty"`
}
