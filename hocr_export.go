package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gardar/ocrchestra/pkg/hocr"

	"labelstudio/labeling"
)

// buildPageHOCR turns the labeled values of one page into an hOCR structure.
// Every located document field becomes a line holding one word; every line
// item becomes a line with one word per located column. Unlocated values are
// left out since hOCR requires a bbox.
func buildPageHOCR(doc *labeling.Document, pageIndex int, page labeling.PageData, size labeling.ImageSize) *hocr.HOCR {
	pageNumber := pageIndex + 1
	hPage := hocr.Page{
		ID:         fmt.Sprintf("page_%d", pageNumber),
		PageNumber: pageNumber,
		ImageName:  page.ImageURL,
		BBox:       hocr.NewBoundingBox(0, 0, float64(size.Width), float64(size.Height)),
		Metadata:   map[string]string{"document_id": doc.ID},
	}

	data := page.ExtractedData
	for _, key := range data.FieldKeys() {
		field := data.Fields[key]
		word, ok := hocrWord(fmt.Sprintf("word_%d_%s", pageNumber, key), key, field)
		if !ok {
			continue
		}
		hPage.Lines = append(hPage.Lines, hocr.Line{
			ID:       fmt.Sprintf("line_%d_%s", pageNumber, key),
			BBox:     word.BBox,
			Words:    []hocr.Word{word},
			Metadata: map[string]string{"field": key},
		})
	}

	for idx, tx := range data.Transactions {
		line := hocr.Line{
			ID:       fmt.Sprintf("line_%d_transaction_%d", pageNumber, idx),
			Metadata: map[string]string{"item_index": fmt.Sprintf("%d", idx)},
		}
		for _, name := range sortedFieldNames(tx) {
			word, ok := hocrWord(fmt.Sprintf("word_%d_%d_%s", pageNumber, idx, name), name, tx[name])
			if !ok {
				continue
			}
			line.Words = append(line.Words, word)
			line.BBox = unionBBox(line.BBox, word.BBox, len(line.Words) == 1)
		}
		if len(line.Words) > 0 {
			hPage.Lines = append(hPage.Lines, line)
		}
	}

	title := doc.FileName
	if title == "" {
		title = doc.ID
	}
	return &hocr.HOCR{
		Title:       title,
		Description: fmt.Sprintf("Labeled page %d of %s", pageNumber, title),
		Metadata:    map[string]string{"ocr-system": "labelstudio"},
		Pages:       []hocr.Page{hPage},
	}
}

// exportPageHOCR renders one page as an hOCR HTML document.
func exportPageHOCR(doc *labeling.Document, pageIndex int, page labeling.PageData, size labeling.ImageSize) (string, error) {
	if !size.Valid() {
		size = labeling.DefaultImageSize
	}
	out, err := hocr.GenerateHOCRDocument(buildPageHOCR(doc, pageIndex, page, size))
	if err != nil {
		return "", fmt.Errorf("error generating hOCR for page %d: %w", pageIndex+1, err)
	}
	return out, nil
}

func hocrWord(id, field string, f labeling.ExtractedField) (hocr.Word, bool) {
	xmin, ymin, xmax, ymax, ok := f.BBox.Values()
	if !ok || f.Value == nil || strings.TrimSpace(*f.Value) == "" {
		return hocr.Word{}, false
	}
	return hocr.Word{
		ID:         id,
		Text:       *f.Value,
		BBox:       hocr.NewBoundingBox(xmin, ymin, xmax, ymax),
		Confidence: f.Confidence * 100,
		Metadata:   map[string]string{"field": field},
	}, true
}

func unionBBox(a, b hocr.BoundingBox, first bool) hocr.BoundingBox {
	if first {
		return b
	}
	return hocr.NewBoundingBox(
		min(a.X1, b.X1),
		min(a.Y1, b.Y1),
		max(a.X2, b.X2),
		max(a.Y2, b.Y2),
	)
}

func sortedFieldNames(tx labeling.ExtractedTransaction) []string {
	names := make([]string, 0, len(tx))
	for name := range tx {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
