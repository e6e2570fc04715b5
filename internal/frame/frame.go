// Package frame owns the runtime Frame entities created by addons and
// exposes the contract used by the presentation layer: creation, visual
// updates, hit-testing and geometry accessors.
package frame

import (
	"fmt"
	"image"
	"strings"
)

// ID identifies a frame. IDs are never reused within a process.
type ID uint64

// String returns the id in its display form.
func (id ID) String() string {
	return fmt.Sprintf("frame-%d", uint64(id))
}

// Owner identifies the addon instance that created a frame.
type Owner struct {
	// Name is the addon name.
	Name string
	// Instance distinguishes successive loads of the same addon.
	Instance string
}

// HandlerRef points at a closure held by the owning addon's sandbox.
// It is resolved through the sandbox, never dereferenced directly.
type HandlerRef struct {
	Instance string
	Token    uint64
}

// IsZero reports whether the reference is unset.
func (r HandlerRef) IsZero() bool {
	return r.Token == 0
}

// FillMode selects how a backdrop image covers the frame.
type FillMode int

const (
	// FillStretch stretches the whole image over the frame.
	FillStretch FillMode = iota
	// FillNinePatch keeps the inset regions undistorted and stretches the interior.
	FillNinePatch
)

// String returns the mode name.
func (m FillMode) String() string {
	switch m {
	case FillStretch:
		return "stretch"
	case FillNinePatch:
		return "ninepatch"
	default:
		return "unknown"
	}
}

// CheckSize reports whether w and h are valid frame dimensions.
func CheckSize(w, h float64) error {
	if w < 0 || h < 0 {
		return fmt.Errorf("%w: %vx%v", ErrNegativeSize, w, h)
	}
	return nil
}

// Insets are the fixed edge sizes of a nine-patch backdrop.
type Insets struct {
	Left, Right, Top, Bottom float64
}

// Uniform returns insets with all four edges equal to size.
func Uniform(size float64) Insets {
	return Insets{Left: size, Right: size, Top: size, Bottom: size}
}

// Backdrop is a bitmap drawn behind a frame.
type Backdrop struct {
	// Source is the image path the bitmap was loaded from.
	Source string
	Image  image.Image
	Mode   FillMode
	Insets Insets
	Tile   bool
}

// Rect is an axis-aligned rectangle in root coordinates. Y grows downwards.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether the point lies inside the rectangle.
// The left and top edges are inclusive, the right and bottom edges exclusive.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Frame is a runtime UI object.
type Frame struct {
	ID       ID
	Owner    Owner
	X, Y     float64
	Width    float64
	Height   float64
	Visible  bool
	Text     string
	Backdrop *Backdrop
	OnClick  HandlerRef
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() Rect {
	return Rect{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height}
}

// AnchorPoint names a point on a rectangle.
type AnchorPoint string

// Anchor points.
const (
	TopLeft     AnchorPoint = "TOPLEFT"
	Top         AnchorPoint = "TOP"
	TopRight    AnchorPoint = "TOPRIGHT"
	Left        AnchorPoint = "LEFT"
	Center      AnchorPoint = "CENTER"
	Right       AnchorPoint = "RIGHT"
	BottomLeft  AnchorPoint = "BOTTOMLEFT"
	Bottom      AnchorPoint = "BOTTOM"
	BottomRight AnchorPoint = "BOTTOMRIGHT"
)

// anchorFractions maps a point to its position as a fraction of width and height.
var anchorFractions = map[AnchorPoint][2]float64{
	TopLeft:     {0, 0},
	Top:         {0.5, 0},
	TopRight:    {1, 0},
	Left:        {0, 0.5},
	Center:      {0.5, 0.5},
	Right:       {1, 0.5},
	BottomLeft:  {0, 1},
	Bottom:      {0.5, 1},
	BottomRight: {1, 1},
}

// ParseAnchorPoint parses an anchor name case-insensitively.
func ParseAnchorPoint(s string) (AnchorPoint, error) {
	p := AnchorPoint(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := anchorFractions[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAnchor, s)
	}
	return p, nil
}

// Anchor places the frame's Point on RelativePoint of a relative rectangle,
// shifted by the offsets.
type Anchor struct {
	Point         AnchorPoint
	RelativePoint AnchorPoint
	OffsetX       float64
	OffsetY       float64
}

// Resolve returns the top-left position of a frame of size w x h anchored to rel.
func (a Anchor) Resolve(rel Rect, w, h float64) (x, y float64) {
	self, ok := anchorFractions[a.Point]
	if !ok {
		self = anchorFractions[TopLeft]
	}
	target, ok := anchorFractions[a.RelativePoint]
	if !ok {
		target = self
	}

	ax := rel.X + target[0]*rel.Width
	ay := rel.Y + target[1]*rel.Height
	return ax - self[0]*w + a.OffsetX, ay - self[1]*h + a.OffsetY
}
