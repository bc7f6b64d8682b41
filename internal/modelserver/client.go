// Package modelserver is the HTTP client for the crop model inference
// server, which hosts the trained classifier and its feature scaler. It
// implements the suitability package's Classifier and Scaler contracts.
package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kassym/agrozone/internal/suitability"
)

// Client communicates with the model inference server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given model server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// IsRunning returns true if the model server responds to GET /health with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// classesResponse mirrors the JSON returned by GET /classes.
type classesResponse struct {
	Classes []string `json:"classes"`
}

// Classes returns the classifier's ordered class list.
func (c *Client) Classes(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/classes", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting class list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out classesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out.Classes, nil
}

type transformRequest struct {
	Vector []float64 `json:"vector"`
}

type transformResponse struct {
	Vector []float64 `json:"vector"`
}

// Transform runs the server-side feature scaler over one vector.
func (c *Client) Transform(ctx context.Context, vector []float64) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var out transformResponse
	if err := c.post(ctx, "/transform", transformRequest{Vector: vector}, &out); err != nil {
		return nil, err
	}
	if len(out.Vector) != len(vector) {
		return nil, fmt.Errorf("scaler returned %d values for %d inputs", len(out.Vector), len(vector))
	}
	return out.Vector, nil
}

type probabilitiesRequest struct {
	Vector []float64 `json:"vector"`
}

// probabilitiesResponse mirrors POST /probabilities. The server reports
// either the n_samples×n_classes matrix or one array per class, depending on
// how the model was exported.
type probabilitiesResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
	PerClass      bool        `json:"per_class"`
}

// PredictProba returns the raw per-class probability output for one vector.
func (c *Client) PredictProba(ctx context.Context, vector []float64) (suitability.RawPrediction, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out probabilitiesResponse
	if err := c.post(ctx, "/probabilities", probabilitiesRequest{Vector: vector}, &out); err != nil {
		return suitability.RawPrediction{}, err
	}
	return suitability.RawPrediction{Matrix: out.Probabilities, PerClass: out.PerClass}, nil
}

// post sends a JSON request body and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
