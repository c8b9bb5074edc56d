package labeling

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPercentage(t *testing.T) {
	tests := []struct {
		name     string
		bbox     BBox
		size     ImageSize
		expected Rect
		ok       bool
	}{
		{
			name:     "Fund name on canonical frame",
			bbox:     NewBBox(100, 100, 300, 150),
			size:     ImageSize{Width: 1200, Height: 1600},
			expected: Rect{X: 8.3333, Y: 6.25, Width: 16.6667, Height: 3.125},
			ok:       true,
		},
		{
			name:     "Natural size differs from canonical frame",
			bbox:     NewBBox(100, 100, 300, 150),
			size:     ImageSize{Width: 2400, Height: 3200},
			expected: Rect{X: 4.1667, Y: 3.125, Width: 8.3333, Height: 1.5625},
			ok:       true,
		},
		{
			name:     "Box past the image edge is clamped",
			bbox:     NewBBox(-50, 1500, 1300, 1700),
			size:     ImageSize{Width: 1200, Height: 1600},
			expected: Rect{X: 0, Y: 93.75, Width: 100, Height: 6.25},
			ok:       true,
		},
		{
			name: "Null bbox is not located",
			bbox: BBox{},
			size: ImageSize{Width: 1200, Height: 1600},
			ok:   false,
		},
		{
			name: "Zero image size",
			bbox: NewBBox(1, 1, 2, 2),
			size: ImageSize{},
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rect, ok := ToPercentage(tc.bbox, tc.size)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				assert.Equal(t, Rect{}, rect)
				return
			}
			assert.InDelta(t, tc.expected.X, rect.X, 0.001)
			assert.InDelta(t, tc.expected.Y, rect.Y, 0.001)
			assert.InDelta(t, tc.expected.Width, rect.Width, 0.001)
			assert.InDelta(t, tc.expected.Height, rect.Height, 0.001)
		})
	}
}

func TestPixelRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sizes := []ImageSize{
		{Width: 1200, Height: 1600},
		{Width: 612, Height: 792},
		{Width: 2481, Height: 3508},
		{Width: 37, Height: 19},
	}

	for _, size := range sizes {
		for i := 0; i < 500; i++ {
			x1 := float64(rng.Intn(size.Width + 1))
			x2 := float64(rng.Intn(size.Width + 1))
			y1 := float64(rng.Intn(size.Height + 1))
			y2 := float64(rng.Intn(size.Height + 1))
			if x2 < x1 {
				x1, x2 = x2, x1
			}
			if y2 < y1 {
				y1, y2 = y2, y1
			}
			original := NewBBox(x1, y1, x2, y2)

			rect, ok := ToPercentage(original, size)
			require.True(t, ok)
			back := ToPixels(rect, size)
			require.True(t, back.Located())

			want := [4]float64{x1, y1, x2, y2}
			for j := 0; j < 4; j++ {
				assert.InDelta(t, want[j], *back[j], 1, "size %v box %v edge %d", size, want, j)
			}
		}
	}
}

func TestToPixelsClampsAndRounds(t *testing.T) {
	size := ImageSize{Width: 1000, Height: 500}

	box := ToPixels(Rect{X: 10.04, Y: 20.2, Width: 5.5, Height: 10}, size)
	xmin, ymin, xmax, ymax, ok := box.Values()
	require.True(t, ok)
	assert.Equal(t, 100.0, xmin)
	assert.Equal(t, 101.0, ymin)
	assert.Equal(t, 155.0, xmax)
	assert.Equal(t, 151.0, ymax)

	box = ToPixels(Rect{X: 90, Y: -10, Width: 50, Height: 200}, size)
	xmin, ymin, xmax, ymax, _ = box.Values()
	assert.Equal(t, 900.0, xmin)
	assert.Equal(t, 0.0, ymin)
	assert.Equal(t, 1000.0, xmax)
	assert.Equal(t, 500.0, ymax)
}

func TestPointFromClient(t *testing.T) {
	el := ElementRect{Left: 100, Top: 50, Width: 400, Height: 200}

	assert.Equal(t, Point{X: 25, Y: 50}, PointFromClient(200, 150, el))
	assert.Equal(t, Point{X: 0, Y: 0}, PointFromClient(10, 10, el))
	assert.Equal(t, Point{X: 100, Y: 100}, PointFromClient(900, 900, el))
	assert.Equal(t, Point{}, PointFromClient(200, 150, ElementRect{}))
}

func TestBBoxJSON(t *testing.T) {
	var located BBox
	require.NoError(t, json.Unmarshal([]byte(`[1, 2, 3, 4]`), &located))
	assert.True(t, located.Located())

	var missing BBox
	require.NoError(t, json.Unmarshal([]byte(`[null, null, null, null]`), &missing))
	assert.False(t, missing.Located())

	var empty BBox
	require.NoError(t, json.Unmarshal([]byte(`[]`), &empty))
	assert.False(t, empty.Located())

	data, err := json.Marshal(BBox{})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, null, null, null]`, string(data))

	data, err = json.Marshal(NewBBox(1, 2, 3, 4))
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2, 3, 4]`, string(data))
}
