// Package chat is the client side of the document chatbot: an HTTP client for the ask
// API, a chat session that enforces the send flow, and a plain text transcript
// renderer.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "http://localhost:8000"

// Source is a cited document fragment as sent by the server.
type Source struct {
	Filename       string  `json:"filename"`
	FileType       string  `json:"file_type"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"snippet"`
	Page           *int    `json:"page,omitempty"`
	SlideNumber    *int    `json:"slide_number,omitempty"`
	Sheet          *string `json:"sheet,omitempty"`
	CellRange      *string `json:"cell_range,omitempty"`
	Section        *string `json:"section,omitempty"`
}

// AskResponse is the answer payload. Only Answer is required.
type AskResponse struct {
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	Confidence     *float64 `json:"confidence"`
	ProcessingTime *float64 `json:"processing_time"`
	Timestamp      string   `json:"timestamp"`
}

type CollectionInfo struct {
	CollectionName string     `json:"collection_name"`
	DocumentCount  int        `json:"document_count"`
	EmbeddingModel string     `json:"embedding_model"`
	LastUpdated    *time.Time `json:"last_updated"`
	StoragePath    string     `json:"storage_path"`
}

// Client calls the chatbot API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client, which has no timeout of its own.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatbot API error %d", e.StatusCode)
	}
	return fmt.Sprintf("chatbot API error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	body, err := c.doRequest(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

// Ask posts a question as a form and decodes the answer.
func (c *Client) Ask(ctx context.Context, question string, maxSources int) (*AskResponse, error) {
	form := url.Values{
		"question":    {question},
		"max_sources": {strconv.Itoa(maxSources)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/ask", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var resp AskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &resp, nil
}

// Health returns the server health report as generic JSON.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.getJSON(ctx, "/api/v1/health", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	var resp CollectionInfo
	if err := c.getJSON(ctx, "/api/v1/collection-info", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
