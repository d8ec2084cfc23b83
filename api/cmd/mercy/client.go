package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/scanner"
)

// apiClient is a thin authenticated HTTP client against a running mercy
// serve instance, used by the calibrate and list-exchanges subcommands.
// It's plain net/http rather than the teacher's generated client.Client:
// Mercy's admin surface is a handful of endpoints, not a full API spec.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %s", path, resp.Status, body)
	}
	return body, nil
}

func (c *apiClient) detect() (scanner.DetectResult, error) {
	var result scanner.DetectResult
	body, err := c.get("/detect")
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("decode /detect response: %w", err)
	}
	return result, nil
}

func (c *apiClient) status() (scanner.Status, error) {
	var st scanner.Status
	body, err := c.get("/status")
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("decode /status response: %w", err)
	}
	return st, nil
}

func (c *apiClient) exchanges() ([]exchange.Record, error) {
	var records []exchange.Record
	body, err := c.get("/exchanges")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode /exchanges response: %w", err)
	}
	return records, nil
}
