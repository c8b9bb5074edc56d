package labeling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstudio/internal/constants"
)

func newDrawFixture(mode Mode, values map[string]string) (*Store, *DrawController) {
	store := NewStore(mode, nil, nil)
	draw := NewDrawController(store, func(field string) string { return values[field] })
	return store, draw
}

func TestDrawController_ReverseDragCommits(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, map[string]string{"fund_name": "Acme Fund"})
	store.StartEditField("fund_name")

	require.True(t, draw.PointerDown(Point{X: 10, Y: 10}))
	assert.Equal(t, DrawDrawing, draw.State())
	draw.PointerMove(Point{X: 5, Y: 5})

	draft, drawing := draw.Draft()
	require.True(t, drawing)
	assert.Equal(t, Rect{X: 5, Y: 5, Width: 5, Height: 5}, draft)

	label, ok := draw.PointerUp()
	require.True(t, ok)
	assert.Equal(t, DrawIdle, draw.State())
	assert.Equal(t, "fund_name", label.Field)
	assert.Equal(t, "Acme Fund", label.Text)
	assert.Equal(t, Rect{X: 5, Y: 5, Width: 5, Height: 5}, label.Rect())
	assert.Len(t, store.Labels(), 1)
}

func TestDrawController_DegenerateDrawIsRejected(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, nil)
	var changes int
	store.onChange = func([]Label) { changes++ }
	store.StartEditField("currency")

	require.True(t, draw.PointerDown(Point{X: 10, Y: 10}))
	draw.PointerMove(Point{X: 10.5, Y: 10.3})
	draft, _ := draw.Draft()
	assert.InDelta(t, 0.5, draft.Width, 1e-9)
	assert.InDelta(t, 0.3, draft.Height, 1e-9)

	_, ok := draw.PointerUp()
	assert.False(t, ok)
	assert.Empty(t, store.Labels())
	assert.Equal(t, 0, changes)
	assert.Equal(t, DrawIdle, draw.State())
}

func TestDrawController_PointerLeaveCancels(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, nil)
	store.StartEditField("currency")

	require.True(t, draw.PointerDown(Point{X: 10, Y: 10}))
	draw.PointerMove(Point{X: 40, Y: 40})
	draw.PointerLeave()

	assert.Equal(t, DrawIdle, draw.State())
	_, ok := draw.PointerUp()
	assert.False(t, ok)
	assert.Empty(t, store.Labels())
}

func TestDrawController_RequiresActiveField(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, nil)
	assert.False(t, draw.PointerDown(Point{X: 10, Y: 10}))

	store.StartEditField("currency")
	store.StopDrawing()
	assert.False(t, draw.PointerDown(Point{X: 10, Y: 10}))
}

func TestDrawController_SecondPointerDownKeepsAnchor(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, nil)
	store.StartEditField("currency")

	require.True(t, draw.PointerDown(Point{X: 10, Y: 10}))
	assert.False(t, draw.PointerDown(Point{X: 50, Y: 50}))
	draw.PointerMove(Point{X: 20, Y: 30})
	draft, _ := draw.Draft()
	assert.Equal(t, Rect{X: 10, Y: 10, Width: 10, Height: 20}, draft)
}

func TestDrawController_ClampsToImage(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, nil)
	store.StartEditField("currency")

	require.True(t, draw.PointerDown(Point{X: -20, Y: 90}))
	draw.PointerMove(Point{X: 30, Y: 140})
	label, ok := draw.PointerUp()
	require.True(t, ok)
	assert.Equal(t, Rect{X: 0, Y: 90, Width: 30, Height: 10}, label.Rect())
}

func TestDrawController_PlaceholderText(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, map[string]string{"currency": constants.UnsetValue})
	store.StartEditField("currency")

	draw.PointerDown(Point{X: 10, Y: 10})
	draw.PointerMove(Point{X: 20, Y: 20})
	label, ok := draw.PointerUp()
	require.True(t, ok)
	assert.Equal(t, constants.EditPlaceholder, label.Text)
}

func TestDrawController_StartEditThenDrawReplaces(t *testing.T) {
	store, draw := newDrawFixture(ModeDocument, map[string]string{"currency": "USD"})
	store.AddLabel(LabelDraft{Rect: Rect{X: 1, Y: 1, Width: 5, Height: 5}, Field: "currency", Text: "USD"})

	store.StartEditField("currency")
	draw.PointerDown(Point{X: 50, Y: 50})
	draw.PointerMove(Point{X: 60, Y: 55})
	_, ok := draw.PointerUp()
	require.True(t, ok)

	labels := store.Labels()
	require.Len(t, labels, 1)
	assert.Equal(t, "currency", labels[0].Field)
	assert.Equal(t, 50.0, labels[0].X)
}
