package labeling

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"labelstudio/internal/constants"
)

// DefaultDocumentFields are offered for labeling on a page that has no
// extracted fields yet.
var DefaultDocumentFields = []string{
	"fund_name",
	"account_number",
	"statement_date",
	"currency",
	"opening_balance",
	"closing_balance",
	"total_value",
}

// TransactionRow is the flat form-binding view of one line item.
type TransactionRow struct {
	ID               string
	Verified         bool
	TransactionIndex int
	Values           map[string]string
}

// MarshalJSON flattens the column values next to the row metadata.
func (r TransactionRow) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Values)+3)
	for k, v := range r.Values {
		obj[k] = v
	}
	obj["id"] = r.ID
	obj["verified"] = r.Verified
	obj["transactionIndex"] = r.TransactionIndex
	return json.Marshal(obj)
}

// PageView is what the UI binds to for one page.
type PageView struct {
	Fields       map[string]string `json:"extractedData"`
	Transactions []TransactionRow  `json:"transactions"`
	Labels       []Label           `json:"labels"`
}

// DocumentLabels returns the whole-document labels of the view.
func (v PageView) DocumentLabels() []Label {
	return filterLabels(v.Labels, false)
}

// LineItemLabels returns the line-item labels of the view.
func (v PageView) LineItemLabels() []Label {
	return filterLabels(v.Labels, true)
}

func filterLabels(labels []Label, lineItems bool) []Label {
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l.IsLineItem() == lineItems {
			out = append(out, l)
		}
	}
	return out
}

// LabelRecord is the wire form of a committed label.
type LabelRecord struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
	BBox       BBox   `json:"bbox"`
}

// LineItemGroup holds the committed labels of one transaction row.
type LineItemGroup struct {
	ItemIndex int           `json:"item_index"`
	Records   []LabelRecord `json:"records"`
}

// Adapter converts between extracted page data and labels.
type Adapter struct {
	Palette           Palette
	DocumentFields    []string
	TransactionFields []string
}

// MaxTransactionRows bounds the transaction table of one page.
const MaxTransactionRows = 1000

// NewAdapter creates an adapter. Nil arguments fall back to the defaults.
func NewAdapter(palette Palette, documentFields, transactionFields []string) *Adapter {
	if palette == nil {
		palette = DefaultPalette()
	}
	if len(documentFields) == 0 {
		documentFields = DefaultDocumentFields
	}
	if len(transactionFields) == 0 {
		transactionFields = DefaultTransactionFields
	}
	return &Adapter{
		Palette:           palette,
		DocumentFields:    documentFields,
		TransactionFields: transactionFields,
	}
}

// Forward builds the flat view and the overlay labels of a page. Fields whose
// bbox is not located get a view entry but no label.
func (a *Adapter) Forward(data ExtractedData, size ImageSize) PageView {
	view := PageView{
		Fields:       make(map[string]string, len(data.Fields)),
		Transactions: make([]TransactionRow, 0, len(data.Transactions)),
		Labels:       []Label{},
	}

	if len(data.Fields) == 0 {
		for _, key := range a.DocumentFields {
			view.Fields[key] = constants.UnsetValue
		}
	}
	for _, key := range data.FieldKeys() {
		field := data.Fields[key]
		view.Fields[key] = displayValue(field)
		if rect, ok := ToPercentage(field.BBox, size); ok {
			view.Labels = append(view.Labels, a.label(fmt.Sprintf("field-%s", key), key, field, rect, nil))
		}
	}

	verified := Reconcile(data)
	for idx, tx := range data.Transactions {
		row := TransactionRow{
			ID:               fmt.Sprintf("transaction-%d", idx),
			Verified:         verified[idx],
			TransactionIndex: idx,
			Values:           make(map[string]string, len(tx)),
		}
		for _, name := range sortedKeys(tx) {
			field := tx[name]
			row.Values[name] = displayValue(field)
			if rect, ok := ToPercentage(field.BBox, size); ok {
				itemIndex := idx
				view.Labels = append(view.Labels, a.label(fmt.Sprintf("transaction-%d-%s", idx, name), name, field, rect, &itemIndex))
			}
		}
		view.Transactions = append(view.Transactions, row)
	}
	return view
}

func (a *Adapter) label(id, field string, f ExtractedField, rect Rect, itemIndex *int) Label {
	return Label{
		ID:        id,
		Text:      displayValue(f),
		X:         rect.X,
		Y:         rect.Y,
		Width:     rect.Width,
		Height:    rect.Height,
		Field:     field,
		Color:     a.Palette.Color(field),
		ItemIndex: itemIndex,
	}
}

// DocumentRecords converts whole-document labels into records. Line-item
// labels, degenerate labels and labels of unknown fields are dropped.
func (a *Adapter) DocumentRecords(data ExtractedData, labels []Label, size ImageSize) []LabelRecord {
	known := a.documentFieldSet(data)
	records := make([]LabelRecord, 0, len(labels))
	for _, l := range labels {
		if l.IsLineItem() || !known[l.Field] || !a.usable(l) {
			continue
		}
		records = append(records, LabelRecord{
			FieldName:  l.Field,
			FieldValue: l.Text,
			BBox:       ToPixels(l.Rect(), size),
		})
	}
	return records
}

// LineItemRecords converts line-item labels into records grouped by item index,
// ordered by index.
func (a *Adapter) LineItemRecords(labels []Label, size ImageSize) []LineItemGroup {
	known := a.transactionFieldSet()
	byIndex := make(map[int][]LabelRecord)
	for _, l := range labels {
		if !l.IsLineItem() || !known[l.Field] || !a.usable(l) {
			continue
		}
		byIndex[*l.ItemIndex] = append(byIndex[*l.ItemIndex], LabelRecord{
			FieldName:  l.Field,
			FieldValue: l.Text,
			BBox:       ToPixels(l.Rect(), size),
		})
	}
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	groups := make([]LineItemGroup, 0, len(indices))
	for _, idx := range indices {
		groups = append(groups, LineItemGroup{ItemIndex: idx, Records: byIndex[idx]})
	}
	return groups
}

// ApplyDocumentLabels writes committed labels back onto the page fields and
// returns the number of fields touched.
func (a *Adapter) ApplyDocumentLabels(data *ExtractedData, labels []Label, size ImageSize) int {
	if data.Fields == nil {
		data.Fields = make(map[string]ExtractedField)
	}
	applied := 0
	for _, rec := range a.DocumentRecords(*data, labels, size) {
		data.Fields[rec.FieldName] = applyRecord(data.Fields[rec.FieldName], rec)
		applied++
	}
	return applied
}

// ApplyLineItemLabels writes committed line-item labels back onto the
// transactions. Rows past the end are created with the canonical columns.
func (a *Adapter) ApplyLineItemLabels(data *ExtractedData, labels []Label, size ImageSize) int {
	applied := 0
	for _, group := range a.LineItemRecords(labels, size) {
		for len(data.Transactions) <= group.ItemIndex {
			data.Transactions = append(data.Transactions, a.emptyTransaction())
		}
		tx := data.Transactions[group.ItemIndex]
		if tx == nil {
			tx = a.emptyTransaction()
			data.Transactions[group.ItemIndex] = tx
		}
		for _, rec := range group.Records {
			tx[rec.FieldName] = applyRecord(tx[rec.FieldName], rec)
			applied++
		}
	}
	return applied
}

// ApplyBatch writes a committed batch, as received by a document store, onto
// page data and returns the number of fields touched. Unknown field names and
// groups past MaxTransactionRows are dropped.
func (a *Adapter) ApplyBatch(data *ExtractedData, batch LabelBatch) int {
	applied := 0
	known := a.documentFieldSet(*data)
	for _, rec := range batch.Records {
		if !known[rec.FieldName] {
			log.WithField("field", rec.FieldName).Debug("Dropping unknown document field from batch")
			continue
		}
		if data.Fields == nil {
			data.Fields = make(map[string]ExtractedField)
		}
		data.Fields[rec.FieldName] = applyRecord(data.Fields[rec.FieldName], rec)
		applied++
	}

	knownTx := a.transactionFieldSet()
	for _, group := range batch.Groups {
		if group.ItemIndex < 0 || group.ItemIndex >= MaxTransactionRows {
			log.WithField("item_index", group.ItemIndex).Debug("Dropping line item group outside the transaction table")
			continue
		}
		records := make([]LabelRecord, 0, len(group.Records))
		for _, rec := range group.Records {
			if knownTx[rec.FieldName] {
				records = append(records, rec)
			}
		}
		if len(records) == 0 {
			continue
		}
		for len(data.Transactions) <= group.ItemIndex {
			data.Transactions = append(data.Transactions, a.emptyTransaction())
		}
		if data.Transactions[group.ItemIndex] == nil {
			data.Transactions[group.ItemIndex] = a.emptyTransaction()
		}
		tx := data.Transactions[group.ItemIndex]
		for _, rec := range records {
			tx[rec.FieldName] = applyRecord(tx[rec.FieldName], rec)
			applied++
		}
	}
	return applied
}

func (a *Adapter) emptyTransaction() ExtractedTransaction {
	tx := make(ExtractedTransaction, len(a.TransactionFields))
	for _, name := range a.TransactionFields {
		tx[name] = ExtractedField{}
	}
	return tx
}

func (a *Adapter) usable(l Label) bool {
	if l.Rect().Degenerate() {
		log.WithFields(logrus.Fields{
			"field":  l.Field,
			"width":  l.Width,
			"height": l.Height,
		}).Debug("Dropping degenerate label on commit")
		return false
	}
	return true
}

func (a *Adapter) documentFieldSet(data ExtractedData) map[string]bool {
	known := make(map[string]bool, len(data.Fields)+len(a.DocumentFields))
	for _, k := range a.DocumentFields {
		known[k] = true
	}
	for k := range data.Fields {
		known[k] = true
	}
	return known
}

func (a *Adapter) transactionFieldSet() map[string]bool {
	known := make(map[string]bool, len(a.TransactionFields))
	for _, k := range a.TransactionFields {
		known[k] = true
	}
	return known
}

// applyRecord overwrites the value only with real text and always takes the bbox.
func applyRecord(f ExtractedField, rec LabelRecord) ExtractedField {
	if rec.FieldValue != "" && !constants.IsPlaceholder(rec.FieldValue) {
		v := rec.FieldValue
		f.Value = &v
		f.Confidence = 1
	}
	f.BBox = rec.BBox
	return f
}

func displayValue(f ExtractedField) string {
	if f.Value == nil {
		return constants.UnsetValue
	}
	return *f.Value
}

func sortedKeys(tx ExtractedTransaction) []string {
	keys := make([]string, 0, len(tx))
	for k := range tx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
