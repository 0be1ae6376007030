package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kalambet/zenflow/internal/api"
	"github.com/kalambet/zenflow/internal/config"
)

// apiClient calls the HTTP API of a zenflow server started with `serve`.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func(cfg config.Config) (*apiClient, error) {
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}
	return &apiClient{
		baseURL:    serverURL(cfg),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// serverError is the {"error":{...}} body the API sends with 4xx/5xx.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
}

// call sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). Non-2xx responses come back as *serverError.
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is zenflow running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readServerError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func readServerError(resp *http.Response) error {
	se := &serverError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		se.Message = fmt.Sprintf("reading body: %v", err)
		return se
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		se.Message, se.Type = envelope.Error.Message, envelope.Error.Type
	} else {
		se.Message = string(bytes.TrimSpace(raw))
	}
	return se
}

// healthy reports whether a server answers /health. It needs no token.
func (c *apiClient) healthy(ctx context.Context) (bool, error) {
	err := c.call(ctx, http.MethodGet, "/health", nil, nil)
	var se *serverError
	if errors.As(err, &se) {
		return false, se
	}
	return err == nil, nil
}

func (c *apiClient) usage(ctx context.Context) (api.UsageView, error) {
	var v api.UsageView
	err := c.call(ctx, http.MethodGet, "/usage", nil, &v)
	return v, err
}
