package labeling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstudio/internal/constants"
)

func strPtr(s string) *string { return &s }

func field(value string, box BBox) ExtractedField {
	return ExtractedField{Value: strPtr(value), BBox: box, Confidence: 0.9}
}

func findLabel(t *testing.T, labels []Label, id string) Label {
	t.Helper()
	for _, l := range labels {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("label %s not found", id)
	return Label{}
}

func TestAdapter_ForwardDocumentField(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{Fields: map[string]ExtractedField{
		"fund_name": field("Acme Growth Fund", NewBBox(100, 100, 300, 150)),
	}}

	view := adapter.Forward(data, ImageSize{Width: 1200, Height: 1600})

	assert.Equal(t, "Acme Growth Fund", view.Fields["fund_name"])
	require.Len(t, view.Labels, 1)
	l := findLabel(t, view.Labels, "field-fund_name")
	assert.InDelta(t, 8.333, l.X, 0.01)
	assert.InDelta(t, 6.25, l.Y, 0.01)
	assert.InDelta(t, 16.667, l.Width, 0.01)
	assert.InDelta(t, 3.125, l.Height, 0.01)
	assert.Equal(t, "fund_name", l.Field)
	assert.Equal(t, DefaultPalette().Color("fund_name"), l.Color)
	assert.Nil(t, l.ItemIndex)
}

func TestAdapter_ForwardSkipsUnlocatedFields(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{Fields: map[string]ExtractedField{
		"currency":    {Value: strPtr("USD")},
		"fund_name":   field("Acme", NewBBox(0, 0, 10, 10)),
		"total_value": {Value: nil},
	}}

	view := adapter.Forward(data, DefaultImageSize)

	assert.Equal(t, "USD", view.Fields["currency"])
	assert.Equal(t, constants.UnsetValue, view.Fields["total_value"])
	require.Len(t, view.Labels, 1)
	assert.Equal(t, "fund_name", view.Labels[0].Field)
}

func TestAdapter_ForwardEmptyPageOffersDefaults(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)

	view := adapter.Forward(ExtractedData{}, DefaultImageSize)

	for _, key := range DefaultDocumentFields {
		assert.Equal(t, constants.UnsetValue, view.Fields[key], key)
	}
	assert.Empty(t, view.Labels)
	assert.Empty(t, view.Transactions)
}

func TestAdapter_ForwardTransactions(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{
		Fields: map[string]ExtractedField{"opening_balance": {Value: strPtr("100.00")}},
		Transactions: []ExtractedTransaction{
			{
				"date":    field("2024-01-02", NewBBox(10, 200, 110, 220)),
				"credit":  {Value: strPtr("50.00")},
				"balance": field("150.00", NewBBox(900, 200, 1000, 220)),
			},
			{
				"date":    {Value: strPtr("2024-01-03")},
				"debit":   {Value: strPtr("20.00")},
				"balance": {Value: strPtr("100.00")},
			},
		},
	}

	view := adapter.Forward(data, DefaultImageSize)

	require.Len(t, view.Transactions, 2)
	assert.Equal(t, "transaction-0", view.Transactions[0].ID)
	assert.True(t, view.Transactions[0].Verified)
	assert.False(t, view.Transactions[1].Verified)
	assert.Equal(t, 1, view.Transactions[1].TransactionIndex)
	assert.Equal(t, "20.00", view.Transactions[1].Values["debit"])

	items := view.LineItemLabels()
	require.Len(t, items, 2)
	bal := findLabel(t, items, "transaction-0-balance")
	require.NotNil(t, bal.ItemIndex)
	assert.Equal(t, 0, *bal.ItemIndex)
	assert.Empty(t, view.DocumentLabels())
}

func TestTransactionRow_MarshalJSON(t *testing.T) {
	row := TransactionRow{ID: "transaction-3", Verified: true, TransactionIndex: 3, Values: map[string]string{"date": "2024-01-02"}}

	raw, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"transaction-3","verified":true,"transactionIndex":3,"date":"2024-01-02"}`, string(raw))
}

func TestAdapter_DocumentRecords(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	size := ImageSize{Width: 1000, Height: 1000}
	item := 0
	labels := []Label{
		{Field: "currency", Text: "EUR", X: 10, Y: 10, Width: 5, Height: 2},
		{Field: "custom_note", Text: "x", X: 10, Y: 20, Width: 5, Height: 2},
		{Field: "fund_name", Text: "Acme", X: 10, Y: 30, Width: 0.5, Height: 2},
		{Field: "date", Text: "2024", X: 10, Y: 40, Width: 5, Height: 2, ItemIndex: &item},
	}

	records := adapter.DocumentRecords(ExtractedData{}, labels, size)

	require.Len(t, records, 1)
	assert.Equal(t, "currency", records[0].FieldName)
	assert.Equal(t, "EUR", records[0].FieldValue)
	xmin, ymin, xmax, ymax, ok := records[0].BBox.Values()
	require.True(t, ok)
	assert.Equal(t, []float64{100, 100, 150, 120}, []float64{xmin, ymin, xmax, ymax})

	withCustom := ExtractedData{Fields: map[string]ExtractedField{"custom_note": {}}}
	assert.Len(t, adapter.DocumentRecords(withCustom, labels, size), 2)
}

func TestAdapter_LineItemRecordsGroupByIndex(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	zero, two := 0, 2
	labels := []Label{
		{Field: "balance", Text: "10", X: 80, Y: 50, Width: 10, Height: 2, ItemIndex: &two},
		{Field: "date", Text: "2024-01-01", X: 5, Y: 40, Width: 10, Height: 2, ItemIndex: &zero},
		{Field: "memo", Text: "ignored", X: 30, Y: 40, Width: 10, Height: 2, ItemIndex: &zero},
		{Field: "currency", Text: "USD", X: 5, Y: 5, Width: 10, Height: 2},
		{Field: "debit", Text: "5", X: 60, Y: 40, Width: 10, Height: 2, ItemIndex: &zero},
	}

	groups := adapter.LineItemRecords(labels, DefaultImageSize)

	require.Len(t, groups, 2)
	assert.Equal(t, 0, groups[0].ItemIndex)
	assert.Len(t, groups[0].Records, 2)
	assert.Equal(t, 2, groups[1].ItemIndex)
	assert.Equal(t, "balance", groups[1].Records[0].FieldName)
}

func TestAdapter_ApplyDocumentLabels(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	size := ImageSize{Width: 1000, Height: 1000}
	data := ExtractedData{Fields: map[string]ExtractedField{
		"currency":  field("USD", NewBBox(0, 0, 1, 1)),
		"fund_name": field("Acme", NewBBox(0, 0, 1, 1)),
	}}
	labels := []Label{
		{Field: "currency", Text: "EUR", X: 10, Y: 10, Width: 5, Height: 2},
		{Field: "fund_name", Text: constants.EditPlaceholder, X: 20, Y: 20, Width: 5, Height: 2},
	}

	applied := adapter.ApplyDocumentLabels(&data, labels, size)

	assert.Equal(t, 2, applied)
	assert.Equal(t, "EUR", data.Fields["currency"].Text())
	assert.Equal(t, 1.0, data.Fields["currency"].Confidence)

	fund := data.Fields["fund_name"]
	assert.Equal(t, "Acme", fund.Text())
	assert.Equal(t, 0.9, fund.Confidence)
	xmin, ymin, _, _, ok := fund.BBox.Values()
	require.True(t, ok)
	assert.Equal(t, 200.0, xmin)
	assert.Equal(t, 200.0, ymin)
}

func TestAdapter_ApplyLineItemLabelsExtendsRows(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{Transactions: []ExtractedTransaction{
		{"date": {Value: strPtr("2024-01-01")}},
	}}
	two := 2
	labels := []Label{{Field: "debit", Text: "12.50", X: 60, Y: 40, Width: 10, Height: 2, ItemIndex: &two}}

	applied := adapter.ApplyLineItemLabels(&data, labels, DefaultImageSize)

	assert.Equal(t, 1, applied)
	require.Len(t, data.Transactions, 3)
	assert.Equal(t, "12.50", data.Transactions[2]["debit"].Text())
	for _, name := range DefaultTransactionFields {
		_, ok := data.Transactions[1][name]
		assert.True(t, ok, name)
	}
	assert.Equal(t, "2024-01-01", data.Transactions[0]["date"].Text())
}

func TestExtractedData_JSON(t *testing.T) {
	raw := `{
		"fund_name": {"value": "Acme", "bbox": [1, 2, 3, 4], "confidence": 0.8},
		"currency": {"value": null, "bbox": [null, null, null, null], "confidence": 0},
		"notes": "free text",
		"transactions": [{"date": {"value": "2024-01-01", "bbox": [], "confidence": 0.5}}]
	}`

	var data ExtractedData
	require.NoError(t, json.Unmarshal([]byte(raw), &data))

	assert.Equal(t, []string{"currency", "fund_name"}, data.FieldKeys())
	assert.True(t, data.Fields["fund_name"].BBox.Located())
	assert.False(t, data.Fields["currency"].BBox.Located())
	assert.Nil(t, data.Fields["currency"].Value)
	require.Len(t, data.Transactions, 1)
	assert.Equal(t, "2024-01-01", data.Transactions[0]["date"].Text())

	clone := data.Clone()
	*clone.Fields["fund_name"].Value = "Changed"
	assert.Equal(t, "Acme", data.Fields["fund_name"].Text())
}

func TestAdapter_ApplyBatch(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{}
	batch := LabelBatch{
		Mode:    ModeDocument,
		Records: []LabelRecord{{FieldName: "currency", FieldValue: "CHF", BBox: NewBBox(1, 2, 3, 4)}},
		Groups: []LineItemGroup{
			{ItemIndex: 1, Records: []LabelRecord{{FieldName: "balance", FieldValue: "10.00", BBox: NewBBox(5, 6, 7, 8)}}},
		},
	}

	applied := adapter.ApplyBatch(&data, batch)

	assert.Equal(t, 2, applied)
	assert.Equal(t, "CHF", data.Fields["currency"].Text())
	require.Len(t, data.Transactions, 2)
	assert.Equal(t, "10.00", data.Transactions[1]["balance"].Text())
	assert.True(t, data.Transactions[1]["balance"].BBox.Located())
}

func TestAdapter_ApplyBatchDropsUnknownFields(t *testing.T) {
	adapter := NewAdapter(nil, nil, nil)
	data := ExtractedData{
		Fields:       map[string]ExtractedField{"fund_name": field("Acme", NewBBox(1, 1, 2, 2))},
		Transactions: []ExtractedTransaction{{"amount": field("1.00", NewBBox(1, 1, 2, 2))}},
	}
	batch := LabelBatch{
		Records: []LabelRecord{
			{FieldName: "fund_name", FieldValue: "Beta", BBox: NewBBox(1, 2, 3, 4)},
			{FieldName: "favourite_colour", FieldValue: "blue", BBox: NewBBox(1, 2, 3, 4)},
		},
		Groups: []LineItemGroup{
			{ItemIndex: 0, Records: []LabelRecord{{FieldName: "memo", FieldValue: "x", BBox: NewBBox(1, 2, 3, 4)}}},
			{ItemIndex: 1, Records: []LabelRecord{{FieldName: "nickname", FieldValue: "y", BBox: NewBBox(1, 2, 3, 4)}}},
			{ItemIndex: MaxTransactionRows, Records: []LabelRecord{{FieldName: "amount", FieldValue: "9.00", BBox: NewBBox(1, 2, 3, 4)}}},
			{ItemIndex: -1, Records: []LabelRecord{{FieldName: "amount", FieldValue: "9.00", BBox: NewBBox(1, 2, 3, 4)}}},
		},
	}

	applied := adapter.ApplyBatch(&data, batch)

	assert.Equal(t, 1, applied)
	assert.Equal(t, "Beta", data.Fields["fund_name"].Text())
	assert.NotContains(t, data.Fields, "favourite_colour")
	require.Len(t, data.Transactions, 1)
	assert.NotContains(t, data.Transactions[0], "memo")
}
