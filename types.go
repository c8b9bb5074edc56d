package main

import (
	"bytes"
	"encoding/json"

	"labelstudio/labeling"
)

// CreateSessionRequest is the request payload for the POST /api/sessions endpoint
type CreateSessionRequest struct {
	DocumentID string `json:"document_id"`
	Mode       string `json:"mode,omitempty"`
}

// SelectDocumentRequest is the request payload for POST /api/sessions/:id/document
type SelectDocumentRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
}

// ModeRequest is the request payload for PUT /api/sessions/:id/mode
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// LabelTextRequest is the request payload for PATCH /api/sessions/:id/labels/:label_id
type LabelTextRequest struct {
	Text string `json:"text"`
}

// PointerRequest carries one pointer event over the page image.
// Either X/Y (percent of the rendered image) or ClientX/ClientY together with
// Element (the on-screen rectangle of the image) must be set.
type PointerRequest struct {
	Type    string                `json:"type" binding:"required"` // "down", "move", "up" or "leave"
	X       float64               `json:"x"`
	Y       float64               `json:"y"`
	ClientX float64               `json:"client_x"`
	ClientY float64               `json:"client_y"`
	Element *labeling.ElementRect `json:"element,omitempty"`
}

// Point resolves the event position in percentage space.
func (r PointerRequest) Point() labeling.Point {
	if r.Element != nil {
		return labeling.PointFromClient(r.ClientX, r.ClientY, *r.Element)
	}
	return labeling.ClampPoint(labeling.Point{X: r.X, Y: r.Y})
}

// ApprovalRequest is the request payload for POST /api/sessions/:id/approval
type ApprovalRequest struct {
	Status string `json:"status" binding:"required"`
}

// Settings defines the structure for server-side labeling settings
type Settings struct {
	Palette           labeling.Palette `json:"palette"`
	DocumentFields    []string         `json:"document_fields"`
	TransactionFields []string         `json:"transaction_fields"`
	DefaultMode       labeling.Mode    `json:"default_mode"` // "document" or "lineItems"
}

// ExtractedDataEnvelope wraps the per-page extraction results.
type ExtractedDataEnvelope struct {
	Pages []labeling.PageData `json:"extracted_data"`
}

// UnmarshalJSON also accepts a bare page array, as echoed by some stores.
func (e *ExtractedDataEnvelope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &e.Pages)
	}
	type plain ExtractedDataEnvelope
	return json.Unmarshal(trimmed, (*plain)(e))
}

// DocumentUpdateRequest is the request payload for PUT /api/documents/{id}/
type DocumentUpdateRequest struct {
	ExtractedData ExtractedDataEnvelope     `json:"extractedData"`
	Fields        map[string]string         `json:"fields"`
	Transactions  []labeling.TransactionRow `json:"transactions"`
	Status        string                    `json:"status"`
	CurrentPage   int                       `json:"currentPage"`
}

func newDocumentUpdateRequest(update labeling.DocumentUpdate) DocumentUpdateRequest {
	return DocumentUpdateRequest{
		ExtractedData: ExtractedDataEnvelope{Pages: update.ExtractedData},
		Fields:        update.Fields,
		Transactions:  update.Transactions,
		Status:        update.Status,
		CurrentPage:   update.CurrentPage,
	}
}

// DocumentApiResponse is the response payload of the document store for
// /api/documents/{id}/ and the body of a successful update.
// Pages arrive under extractedData.extracted_data; older stores send parse_data.
type DocumentApiResponse struct {
	ID            string                 `json:"documentId"`
	FileName      string                 `json:"file_name"`
	Status        string                 `json:"status"`
	ExtractedData *ExtractedDataEnvelope `json:"extractedData,omitempty"`
	ParseData     []labeling.PageData    `json:"parse_data"`
	CurrentPage   int                    `json:"currentPage"`
}

// toDocument converts the wire payload into the session model.
func (r DocumentApiResponse) toDocument() *labeling.Document {
	pages := r.ParseData
	if r.ExtractedData != nil && len(r.ExtractedData.Pages) > 0 {
		pages = r.ExtractedData.Pages
	}
	return &labeling.Document{
		ID:          r.ID,
		FileName:    r.FileName,
		Status:      r.Status,
		Pages:       pages,
		CurrentPage: r.CurrentPage,
	}
}

// SaveLabelsRequest is the request payload sent to the document store for
// /api/documents/{id}/pages/{page}/labels/
type SaveLabelsRequest struct {
	PageIndex int                      `json:"page_index"`
	Mode      labeling.Mode            `json:"mode"`
	Labels    []labeling.LabelRecord   `json:"labels,omitempty"`
	LineItems []labeling.LineItemGroup `json:"line_items,omitempty"`
}
