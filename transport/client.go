// Package transport implements the HTTP client for the trace collection
// service: an authenticated request primitive, the trace-ingestion
// operation, and a file-based exporter for local debugging.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
)

// Config holds the settings needed to construct a Client. Either APIKey or
// Username/Password must be set.
type Config struct {
	// BaseURL is the root URL of the collection service.
	BaseURL string

	// APIKey authenticates via an API key.
	APIKey string

	// Username and Password authenticate via credentials when no API key is
	// available.
	Username string
	Password string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the trace collection API. All methods are
// safe for concurrent use. It implements spangle.Exporter.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, goerr.New("BaseURL is required")
	}
	if cfg.APIKey == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, goerr.New("either APIKey or Username/Password is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg, httpClient),
	}, nil
}

// ingestBody is the wire format for trace ingestion. The nesting shape of
// each trace (type discriminant plus spans arrays) is defined by the span
// package's serialization.
type ingestBody struct {
	LogStream    string        `json:"log_stream,omitempty"`
	ExperimentID string        `json:"experiment_id,omitempty"`
	Traces       []*span.Trace `json:"traces"`
}

// IngestTraces uploads a trace batch for the given project identity.
func (c *Client) IngestTraces(ctx context.Context, batch spangle.Batch) error {
	path := "/v1/projects/" + url.PathEscape(batch.Project) + "/traces"
	body := ingestBody{
		LogStream:    batch.LogStream,
		ExperimentID: batch.ExperimentID,
		Traces:       batch.Traces,
	}
	return c.Do(ctx, http.MethodPost, path, nil, body, nil)
}

// Export implements spangle.Exporter.
func (c *Client) Export(ctx context.Context, batch spangle.Batch) error {
	return c.IngestTraces(ctx, batch)
}

// Experiment is an experiment record returned by the API.
type Experiment struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Project string    `json:"project"`
	Created time.Time `json:"created_at"`
}

// CreateExperiment creates an experiment under a project, for callers that
// log against experiments instead of log streams.
func (c *Client) CreateExperiment(ctx context.Context, project, name string) (*Experiment, error) {
	path := "/v1/projects/" + url.PathEscape(project) + "/experiments"
	var resp Experiment
	if err := c.Do(ctx, http.MethodPost, path, nil, map[string]any{"name": name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Do executes one authenticated request. body is JSON-encoded when non-nil;
// the response is decoded into dest when dest is non-nil. Requests are not
// retried.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body", goerr.V("path", path))
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "request failed", goerr.V("method", method), goerr.V("path", path))
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerr.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return goerr.Wrap(err, "failed to decode response body")
	}
	return nil
}
