package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"labelstudio/labeling"
)

// DocStoreClient talks to the remote document store that holds documents and
// their extraction results.
type DocStoreClient struct {
	BaseURL     string
	APIToken    string
	HTTPClient  *retryablehttp.Client
	rateLimiter *rate.Limiter
}

// NewDocStoreClient creates a client authenticating with a bearer token.
// requestsPerMinute <= 0 disables rate limiting.
func NewDocStoreClient(baseURL, apiToken string, requestsPerMinute float64) *DocStoreClient {
	logger := log.WithFields(logrus.Fields{
		"component": "docstore",
		"url":       baseURL,
	})

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient = NewHttpClientWithBearerTransport(apiToken, nil)
	client.Logger = logger

	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
	}

	return &DocStoreClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIToken:    apiToken,
		HTTPClient:  client,
		rateLimiter: limiter,
	}
}

// Do sends a request to the document store. A non-nil body is sent as JSON.
func (client *DocStoreClient) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if client.rateLimiter != nil {
		if err := client.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	requestURL := fmt.Sprintf("%s/%s", client.BaseURL, strings.TrimLeft(path, "/"))
	var reqBody interface{}
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.HTTPClient.Do(req)
}

// GetDocumentByID fetches a document with its per-page extraction data.
func (client *DocStoreClient) GetDocumentByID(ctx context.Context, id string) (*labeling.Document, error) {
	path := fmt.Sprintf("api/documents/%s/", url.PathEscape(id))
	resp, err := client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("document %s: %w", id, labeling.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("error fetching document %s: %d, %s", id, resp.StatusCode, string(bodyBytes))
	}

	var documentResponse DocumentApiResponse
	if err := json.NewDecoder(resp.Body).Decode(&documentResponse); err != nil {
		return nil, fmt.Errorf("error decoding document %s: %w", id, err)
	}
	if documentResponse.ID == "" {
		documentResponse.ID = id
	}
	return documentResponse.toDocument(), nil
}

// UpdateDocument writes the full document snapshot, including its status.
func (client *DocStoreClient) UpdateDocument(ctx context.Context, id string, update labeling.DocumentUpdate) (*labeling.Document, error) {
	jsonData, err := json.Marshal(newDocumentUpdateRequest(update))
	if err != nil {
		return nil, fmt.Errorf("error marshalling update for document %s: %w", id, err)
	}

	path := fmt.Sprintf("api/documents/%s/", url.PathEscape(id))
	resp, err := client.Do(ctx, http.MethodPut, path, jsonData)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("document %s: %w", id, labeling.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("error updating document %s: %d, %s", id, resp.StatusCode, string(bodyBytes))
	}

	var documentResponse DocumentApiResponse
	if err := json.NewDecoder(resp.Body).Decode(&documentResponse); err != nil {
		// Some stores answer an update with an empty body.
		documentLogger(id).WithError(err).Debug("Update response carried no document")
		return nil, nil
	}
	return documentResponse.toDocument(), nil
}

// SaveLabels stores the committed labels of one page.
func (client *DocStoreClient) SaveLabels(ctx context.Context, documentID string, pageIndex int, batch labeling.LabelBatch) error {
	payload := SaveLabelsRequest{
		PageIndex: pageIndex,
		Mode:      batch.Mode,
		Labels:    batch.Records,
		LineItems: batch.Groups,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling labels for document %s: %w", documentID, err)
	}

	path := fmt.Sprintf("api/documents/%s/pages/%d/labels/", url.PathEscape(documentID), pageIndex)
	resp, err := client.Do(ctx, http.MethodPost, path, jsonData)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error saving labels for document %s page %d: %d, %s", documentID, pageIndex, resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// SaveSession stores the editing position of a document.
func (client *DocStoreClient) SaveSession(ctx context.Context, documentID string, snapshot labeling.SessionSnapshot) error {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("error marshalling session for document %s: %w", documentID, err)
	}

	path := fmt.Sprintf("api/documents/%s/session/", url.PathEscape(documentID))
	resp, err := client.Do(ctx, http.MethodPut, path, jsonData)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error saving session for document %s: %d, %s", documentID, resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// documentLogger returns a logger with document context
func documentLogger(documentID string) *logrus.Entry {
	return log.WithField("document_id", documentID)
}

var _ labeling.DocumentStore = (*DocStoreClient)(nil)

