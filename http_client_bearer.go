package main

import (
	"fmt"
	"net/http"
)

// HttpTransportWithBearer wraps a RoundTripper to authenticate every request
// against the document store.
type HttpTransportWithBearer struct {
	BaseTransport http.RoundTripper
	Token         string
	UserAgent     string
}

// RoundTrip implements the RoundTripper interface to modify the request.
func (t *HttpTransportWithBearer) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid side effects
	reqClone := req.Clone(req.Context())

	if t.Token != "" {
		reqClone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.Token))
	}
	if t.UserAgent != "" && reqClone.Header.Get("User-Agent") == "" {
		reqClone.Header.Set("User-Agent", t.UserAgent)
	}

	base := t.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}

// NewHttpClientWithBearerTransport returns a client sending token as a bearer
// credential. A nil base uses http.DefaultTransport.
func NewHttpClientWithBearerTransport(token string, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &HttpTransportWithBearer{
			BaseTransport: base,
			Token:         token,
			UserAgent:     userAgent,
		},
	}
}
