package labeling

import (
	"fmt"

	"github.com/google/uuid"
)

// Mode selects how new labels interact with existing ones.
type Mode string

const (
	// ModeDocument keeps at most one label per field.
	ModeDocument Mode = "document"
	// ModeLineItems allows one label per field and line item.
	ModeLineItems Mode = "lineItems"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDocument, ModeLineItems:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unsupported labeling mode: %s", s)
	}
}

// NoItem is the item index of a whole-document field in a LabelKey.
const NoItem = -1

// LabelKey is the durable identity of a label: the field it marks and, for
// line items, the row it belongs to.
type LabelKey struct {
	Field     string
	ItemIndex int
}

// Label is a rectangle drawn over the page image, in percentage space.
type Label struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Field     string  `json:"field"`
	Color     string  `json:"color"`
	ItemIndex *int    `json:"itemIndex,omitempty"`
}

// Rect returns the label geometry.
func (l Label) Rect() Rect {
	return Rect{X: l.X, Y: l.Y, Width: l.Width, Height: l.Height}
}

// Key returns the semantic identity of the label.
func (l Label) Key() LabelKey {
	if l.ItemIndex == nil {
		return LabelKey{Field: l.Field, ItemIndex: NoItem}
	}
	return LabelKey{Field: l.Field, ItemIndex: *l.ItemIndex}
}

// IsLineItem reports whether the label belongs to a repeated line-item field.
func (l Label) IsLineItem() bool {
	return l.ItemIndex != nil
}

// LabelDraft is a label that has not been added to a store yet.
type LabelDraft struct {
	Rect
	Field string `json:"field"`
	Color string `json:"color"`
	Text  string `json:"text"`
}

// Store holds the labels of the page currently displayed. It is not safe for
// concurrent use; the session serializes access to it.
type Store struct {
	mode            Mode
	palette         Palette
	labels          []Label
	selectedField   string
	selectedLabelID string
	drawing         bool
	onChange        func([]Label)
	newID           func() string
}

// NewStore creates an empty store. onChange may be nil.
func NewStore(mode Mode, palette Palette, onChange func([]Label)) *Store {
	if palette == nil {
		palette = DefaultPalette()
	}
	return &Store{
		mode:     mode,
		palette:  palette,
		onChange: onChange,
		newID:    func() string { return uuid.New().String() },
	}
}

// Mode returns the current labeling mode.
func (s *Store) Mode() Mode { return s.mode }

// SetMode switches the labeling mode. The caller is expected to reload the
// labels that belong to the new mode.
func (s *Store) SetMode(mode Mode) {
	s.mode = mode
	s.drawing = false
	s.selectedLabelID = ""
}

// Labels returns a copy of the current labels.
func (s *Store) Labels() []Label {
	out := make([]Label, len(s.labels))
	copy(out, s.labels)
	return out
}

// SelectedField returns the field the next drawn label will belong to.
func (s *Store) SelectedField() string { return s.selectedField }

// SelectedLabelID returns the selected label id, or "" when nothing is selected.
func (s *Store) SelectedLabelID() string { return s.selectedLabelID }

// Drawing reports whether labeling is active.
func (s *Store) Drawing() bool { return s.drawing }

// Palette returns the colour map shared with the store.
func (s *Store) Palette() Palette { return s.palette }

// NextItemIndex returns nil in document mode, otherwise the lowest item index
// not yet used by a label of field. Without deletions this is the count of
// labels already using the field.
func (s *Store) NextItemIndex(field string) *int {
	if s.mode == ModeDocument {
		return nil
	}
	used := make(map[int]bool)
	for _, l := range s.labels {
		if l.Field == field && l.ItemIndex != nil {
			used[*l.ItemIndex] = true
		}
	}
	next := 0
	for used[next] {
		next++
	}
	return &next
}

// AddLabel commits a draft. In document mode it replaces any label of the same
// field; in line-item mode it appends. Degenerate drafts are dropped and
// reported with ok=false.
func (s *Store) AddLabel(draft LabelDraft) (label Label, ok bool) {
	rect := ClampRect(draft.Rect)
	if rect.Degenerate() || draft.Field == "" {
		log.WithField("field", draft.Field).Debug("Dropping degenerate label draft")
		return Label{}, false
	}
	color := draft.Color
	if color == "" {
		color = s.palette.Color(draft.Field)
	}
	label = Label{
		ID:        s.newID(),
		Text:      draft.Text,
		X:         rect.X,
		Y:         rect.Y,
		Width:     rect.Width,
		Height:    rect.Height,
		Field:     draft.Field,
		Color:     color,
		ItemIndex: s.NextItemIndex(draft.Field),
	}
	if s.mode == ModeDocument {
		s.removeField(draft.Field)
	}
	s.labels = append(s.labels, label)
	s.changed()
	return label, true
}

// UpdateLabelText replaces the text of a label. It reports whether the label exists.
func (s *Store) UpdateLabelText(labelID, text string) bool {
	for i := range s.labels {
		if s.labels[i].ID == labelID {
			s.labels[i].Text = text
			s.changed()
			return true
		}
	}
	return false
}

// DeleteLabel removes a label and clears the selection if it was selected.
func (s *Store) DeleteLabel(labelID string) bool {
	for i := range s.labels {
		if s.labels[i].ID == labelID {
			s.labels = append(s.labels[:i], s.labels[i+1:]...)
			if s.selectedLabelID == labelID {
				s.selectedLabelID = ""
			}
			s.changed()
			return true
		}
	}
	return false
}

// StartEditField selects field for drawing. In document mode the existing label
// of that field is removed so the next draw fully replaces it.
func (s *Store) StartEditField(field string) {
	removed := false
	if s.mode == ModeDocument {
		removed = s.removeField(field)
	}
	s.selectedField = field
	s.drawing = true
	s.selectedLabelID = ""
	if removed {
		s.changed()
	}
}

// StopDrawing leaves labeling mode without touching the labels.
func (s *Store) StopDrawing() {
	s.drawing = false
}

// SelectLabel marks a label as selected. It reports whether the label exists.
func (s *Store) SelectLabel(labelID string) bool {
	if labelID == "" {
		s.selectedLabelID = ""
		return true
	}
	for _, l := range s.labels {
		if l.ID == labelID {
			s.selectedLabelID = labelID
			return true
		}
	}
	return false
}

// Find looks a label up by its semantic identity.
func (s *Store) Find(key LabelKey) (Label, bool) {
	for _, l := range s.labels {
		if l.Key() == key {
			return l, true
		}
	}
	return Label{}, false
}

// Replace swaps in the labels of a freshly loaded page and resets selection and
// drawing state. In document mode only the last label of each field is kept.
func (s *Store) Replace(labels []Label) {
	next := make([]Label, 0, len(labels))
	if s.mode == ModeDocument {
		last := make(map[string]int)
		for i, l := range labels {
			last[l.Field] = i
		}
		for i, l := range labels {
			if last[l.Field] == i {
				next = append(next, l)
			}
		}
	} else {
		next = append(next, labels...)
	}
	s.labels = next
	s.selectedLabelID = ""
	s.drawing = false
	s.changed()
}

func (s *Store) removeField(field string) bool {
	kept := s.labels[:0]
	removed := false
	for _, l := range s.labels {
		if l.Field == field {
			if l.ID == s.selectedLabelID {
				s.selectedLabelID = ""
			}
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	s.labels = kept
	return removed
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange(s.Labels())
	}
}
