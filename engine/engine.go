// Package engine is the HTTP client for the external workflow-execution
// engine: the system that owns live documents. flowvc pulls documents from
// it to snapshot and pushes merged results back; nothing else crosses this
// boundary.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meikuraledutech/flowvc"
)

// Client handles communication with the engine's document API. It satisfies
// flowvc.DocumentSource.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the engine at baseURL. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5678"
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetDocument pulls the current state of a document.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*flowvc.Document, error) {
	endpoint := fmt.Sprintf("%s/api/v1/workflows/%s", c.baseURL, url.PathEscape(documentID))
	doc, err := c.do(ctx, http.MethodGet, endpoint, nil, documentID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument pushes a new document state and returns the engine's view
// of the result. The document is validated before it leaves the process;
// the engine boundary is where connection endpoints must hold.
func (c *Client) UpdateDocument(ctx context.Context, documentID string, doc *flowvc.Document) (*flowvc.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("flowvc: encode document: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/workflows/%s", c.baseURL, url.PathEscape(documentID))
	return c.do(ctx, http.MethodPut, endpoint, body, documentID)
}

// do runs one request against the engine and maps the response onto the
// error taxonomy: 404 is a missing document, anything else that fails —
// transport errors, auth failures, 5xx — is the engine being unavailable,
// which the caller may retry with backoff.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, documentID string) (*flowvc.Document, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("flowvc: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flowvc.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: document %s", flowvc.ErrDocumentNotFound, documentID)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: engine returned status %d: %s", flowvc.ErrEngineUnavailable, resp.StatusCode, string(msg))
	}

	var doc flowvc.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", flowvc.ErrEngineUnavailable, err)
	}
	return &doc, nil
}
