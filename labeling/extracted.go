package labeling

import (
	"encoding/json"
	"fmt"
	"sort"
)

const transactionsKey = "transactions"

// ExtractedField is one recognized value on a page.
type ExtractedField struct {
	Value      *string `json:"value"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Text returns the value, or "" when it is null.
func (f ExtractedField) Text() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// ExtractedTransaction holds the recognized columns of one line item.
type ExtractedTransaction map[string]ExtractedField

// ExtractedData is the extraction payload of one page: named fields plus the
// line items under the "transactions" key.
type ExtractedData struct {
	Fields       map[string]ExtractedField
	Transactions []ExtractedTransaction
}

// Empty reports whether the page has nothing extracted.
func (d ExtractedData) Empty() bool {
	return len(d.Fields) == 0 && len(d.Transactions) == 0
}

// FieldKeys returns the document field keys in a stable order.
func (d ExtractedData) FieldKeys() []string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (d ExtractedData) Clone() ExtractedData {
	out := ExtractedData{Fields: make(map[string]ExtractedField, len(d.Fields))}
	for k, f := range d.Fields {
		out.Fields[k] = f.clone()
	}
	if d.Transactions != nil {
		out.Transactions = make([]ExtractedTransaction, len(d.Transactions))
		for i, tx := range d.Transactions {
			row := make(ExtractedTransaction, len(tx))
			for k, f := range tx {
				row[k] = f.clone()
			}
			out.Transactions[i] = row
		}
	}
	return out
}

func (f ExtractedField) clone() ExtractedField {
	out := ExtractedField{Confidence: f.Confidence}
	if f.Value != nil {
		v := *f.Value
		out.Value = &v
	}
	for i, c := range f.BBox {
		if c != nil {
			v := *c
			out.BBox[i] = &v
		}
	}
	return out
}

// MarshalJSON flattens the fields and the transactions into one object.
func (d ExtractedData) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(d.Fields)+1)
	for k, f := range d.Fields {
		obj[k] = f
	}
	if d.Transactions != nil {
		obj[transactionsKey] = d.Transactions
	}
	return json.Marshal(obj)
}

// UnmarshalJSON splits the object into fields and transactions. Entries that
// are not field-shaped are skipped.
func (d *ExtractedData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("error decoding extracted data: %w", err)
	}
	d.Fields = make(map[string]ExtractedField, len(raw))
	d.Transactions = nil
	for k, msg := range raw {
		if k == transactionsKey {
			if err := json.Unmarshal(msg, &d.Transactions); err != nil {
				return fmt.Errorf("error decoding transactions: %w", err)
			}
			continue
		}
		var f ExtractedField
		if err := json.Unmarshal(msg, &f); err != nil {
			log.WithField("field", k).Debugf("Skipping non-field entry in extracted data: %v", err)
			continue
		}
		d.Fields[k] = f
	}
	return nil
}

// PageData is one page of a multi-page document.
type PageData struct {
	ImageURL      string        `json:"image_url"`
	ExtractedData ExtractedData `json:"extracted_data"`
}

// Document is a document as held by a labeling session.
type Document struct {
	ID          string     `json:"documentId"`
	FileName    string     `json:"file_name"`
	Status      string     `json:"status"`
	Pages       []PageData `json:"parse_data"`
	CurrentPage int        `json:"currentPage"`
}

// HasExtraction reports whether at least one page carries extracted data.
func (d *Document) HasExtraction() bool {
	if d == nil {
		return false
	}
	return len(d.Pages) > 0
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Pages = make([]PageData, len(d.Pages))
	for i, p := range d.Pages {
		out.Pages[i] = PageData{ImageURL: p.ImageURL, ExtractedData: p.ExtractedData.Clone()}
	}
	return &out
}
