package labeling

import (
	"github.com/sirupsen/logrus"

	"labelstudio/internal/constants"
)

// DrawState is the state of a DrawController.
type DrawState string

const (
	DrawIdle    DrawState = "idle"
	DrawDrawing DrawState = "drawing"
)

// DrawController turns pointer gestures over the page image into labels.
// Pointer positions are percentages of the rendered image.
type DrawController struct {
	store     *Store
	fieldText func(field string) string
	state     DrawState
	anchor    Point
	draft     Rect
}

// NewDrawController creates a controller committing into store. fieldText
// returns the current value of a field in the extracted-data dictionary, or ""
// when there is none.
func NewDrawController(store *Store, fieldText func(field string) string) *DrawController {
	return &DrawController{
		store:     store,
		fieldText: fieldText,
		state:     DrawIdle,
	}
}

// State returns the controller state.
func (d *DrawController) State() DrawState { return d.state }

// Draft returns the rectangle being drawn and whether a draw is in progress.
func (d *DrawController) Draft() (Rect, bool) {
	return d.draft, d.state == DrawDrawing
}

// PointerDown starts a draw when labeling is active and a field is selected.
// It reports whether a draw was started.
func (d *DrawController) PointerDown(p Point) bool {
	if d.state != DrawIdle || !d.store.Drawing() || d.store.SelectedField() == "" {
		return false
	}
	d.anchor = ClampPoint(p)
	d.draft = Rect{X: d.anchor.X, Y: d.anchor.Y}
	d.state = DrawDrawing
	return true
}

// PointerMove stretches the draft between the anchor and p.
func (d *DrawController) PointerMove(p Point) {
	if d.state != DrawDrawing {
		return
	}
	d.draft = spanRect(d.anchor, ClampPoint(p))
}

// PointerUp finishes the draw. A non-degenerate draft is added to the store;
// a degenerate one is discarded. It returns the added label and whether one was added.
func (d *DrawController) PointerUp() (Label, bool) {
	if d.state != DrawDrawing {
		return Label{}, false
	}
	draft := d.draft
	d.reset()
	if draft.Degenerate() {
		log.WithFields(logrus.Fields{
			"width":  draft.Width,
			"height": draft.Height,
		}).Debug("Discarding degenerate draw")
		return Label{}, false
	}

	field := d.store.SelectedField()
	text := ""
	if d.fieldText != nil {
		text = d.fieldText(field)
	}
	if text == "" || text == constants.UnsetValue {
		text = constants.EditPlaceholder
	}
	return d.store.AddLabel(LabelDraft{
		Rect:  draft,
		Field: field,
		Color: d.store.Palette().Color(field),
		Text:  text,
	})
}

// PointerLeave cancels a draw in progress.
func (d *DrawController) PointerLeave() {
	d.Cancel()
}

// Cancel discards any draw in progress without touching the store.
func (d *DrawController) Cancel() {
	d.reset()
}

func (d *DrawController) reset() {
	d.state = DrawIdle
	d.anchor = Point{}
	d.draft = Rect{}
}
