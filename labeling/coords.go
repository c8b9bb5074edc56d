package labeling

import (
	"encoding/json"
	"math"
)

// DefaultImageSize is the reference frame used when a page image's natural size
// cannot be resolved.
var DefaultImageSize = ImageSize{Width: 1200, Height: 1600}

// ImageSize is the natural pixel size of a page image.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s ImageSize) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Rect is a rectangle in percentage space (0-100 of the rendered image).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Degenerate reports whether the rectangle is too small to be a label.
func (r Rect) Degenerate() bool {
	return r.Width < 1 || r.Height < 1
}

// Point is a position in percentage space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementRect is the on-screen bounding box of the rendered page image, in client pixels.
type ElementRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BBox is an absolute pixel box [xmin, ymin, xmax, ymax]. A nil coordinate
// means the value was not visually located on the page.
type BBox [4]*float64

// NewBBox builds a located bbox.
func NewBBox(xmin, ymin, xmax, ymax float64) BBox {
	return BBox{&xmin, &ymin, &xmax, &ymax}
}

// Located reports whether every coordinate is present.
func (b BBox) Located() bool {
	return b[0] != nil && b[1] != nil && b[2] != nil && b[3] != nil
}

// Values returns the four coordinates, ok is false when the box is not located.
func (b BBox) Values() (xmin, ymin, xmax, ymax float64, ok bool) {
	if !b.Located() {
		return 0, 0, 0, 0, false
	}
	return *b[0], *b[1], *b[2], *b[3], true
}

// UnmarshalJSON accepts [n,n,n,n], [null,null,null,null], null or an empty array.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BBox{}
	for i := 0; i < len(raw) && i < 4; i++ {
		b[i] = raw[i]
	}
	return nil
}

// ToPercentage converts a pixel bbox into a percentage rectangle for the given
// image size. It returns false when the box is not located or the size is invalid.
func ToPercentage(b BBox, size ImageSize) (Rect, bool) {
	xmin, ymin, xmax, ymax, ok := b.Values()
	if !ok || !size.Valid() {
		return Rect{}, false
	}
	w, h := float64(size.Width), float64(size.Height)
	xmin, xmax = clamp(xmin, 0, w), clamp(xmax, 0, w)
	ymin, ymax = clamp(ymin, 0, h), clamp(ymax, 0, h)
	if xmax < xmin {
		xmin, xmax = xmax, xmin
	}
	if ymax < ymin {
		ymin, ymax = ymax, ymin
	}
	return Rect{
		X:      xmin / w * 100,
		Y:      ymin / h * 100,
		Width:  (xmax - xmin) / w * 100,
		Height: (ymax - ymin) / h * 100,
	}, true
}

// ToPixels converts a percentage rectangle into a pixel bbox, rounding each edge
// to the nearest integer and clamping it to the image.
func ToPixels(r Rect, size ImageSize) BBox {
	r = ClampRect(r)
	w, h := float64(size.Width), float64(size.Height)
	xmin := math.Round(r.X / 100 * w)
	ymin := math.Round(r.Y / 100 * h)
	xmax := math.Round((r.X + r.Width) / 100 * w)
	ymax := math.Round((r.Y + r.Height) / 100 * h)
	return NewBBox(
		clamp(xmin, 0, w),
		clamp(ymin, 0, h),
		clamp(xmax, 0, w),
		clamp(ymax, 0, h),
	)
}

// ClampRect keeps the rectangle inside the 0-100 percentage frame.
func ClampRect(r Rect) Rect {
	x := clamp(r.X, 0, 100)
	y := clamp(r.Y, 0, 100)
	return Rect{
		X:      x,
		Y:      y,
		Width:  clamp(r.Width, 0, 100-x),
		Height: clamp(r.Height, 0, 100-y),
	}
}

// ClampPoint keeps the point inside the 0-100 percentage frame.
func ClampPoint(p Point) Point {
	return Point{X: clamp(p.X, 0, 100), Y: clamp(p.Y, 0, 100)}
}

// PointFromClient maps a pointer position in client pixels onto the rendered
// element, in clamped percentage space.
func PointFromClient(clientX, clientY float64, el ElementRect) Point {
	if el.Width <= 0 || el.Height <= 0 {
		return Point{}
	}
	return ClampPoint(Point{
		X: (clientX - el.Left) / el.Width * 100,
		Y: (clientY - el.Top) / el.Height * 100,
	})
}

// spanRect returns the axis-aligned rectangle spanning two points.
func spanRect(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
