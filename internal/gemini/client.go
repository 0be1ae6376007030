// Package gemini is a small REST client for the Gemini and Imagen APIs.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrNoAPIKey is returned when the client is constructed without a key.
var ErrNoAPIKey = errors.New("gemini api key required")

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the Gemini API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client. An empty BaseURL selects DefaultBaseURL.
func New(opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrNoAPIKey
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		apiKey:     key,
		baseURL:    base,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// GenerateContent calls models/{model}:generateContent. A response with no
// candidates is an error, and so is a blocked prompt.
func (c *Client) GenerateContent(ctx context.Context, model string, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.doJSON(ctx, c.endpoint(model, "generateContent"), req, &resp); err != nil {
		return nil, err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini api error: prompt blocked (%s)", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}
	return &resp, nil
}

// GenerateImages calls models/{model}:predict and decodes the returned images.
func (c *Client) GenerateImages(ctx context.Context, model, prompt string, opts ImageOptions) ([]GeneratedImage, error) {
	n := opts.NumberOfImages
	if n <= 0 {
		n = 1
	}
	req := predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{
			SampleCount: n,
			AspectRatio: opts.AspectRatio,
		},
	}
	if opts.MIMEType != "" {
		req.Parameters.OutputOptions = &outputOptions{MIMEType: opts.MIMEType}
	}

	var resp predictResponse
	if err := c.doJSON(ctx, c.endpoint(model, "predict"), req, &resp); err != nil {
		return nil, err
	}

	images := make([]GeneratedImage, 0, len(resp.Predictions))
	for i, p := range resp.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding image %d: %w", i, err)
		}
		mime := p.MIMEType
		if mime == "" {
			mime = opts.MIMEType
		}
		images = append(images, GeneratedImage{MIMEType: mime, Data: data})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no image was generated")
	}
	return images, nil
}

func (c *Client) endpoint(model, method string) string {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	return fmt.Sprintf("%s/models/%s:%s?key=%s", c.baseURL, model, method, url.QueryEscape(c.apiKey))
}

func (c *Client) doJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request: %w", redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp errorResponse
		_ = json.Unmarshal(raw, &errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gemini response: %w", err)
	}
	return nil
}

// redactedError hides the API key in a transport error's text while
// keeping the cause reachable through errors.Is/As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactKey strips the API key from transport errors, which embed the URL.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	msg := err.Error()
	redacted := strings.ReplaceAll(msg, key, "REDACTED")
	redacted = strings.ReplaceAll(redacted, url.QueryEscape(key), "REDACTED")
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}

// Lazy defers constructing a Client until first use. Construction is
// retried on later calls if it fails, and happens at most once on success.
type Lazy struct {
	newFn func() (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewLazy returns a Lazy that builds its client with newFn.
func NewLazy(newFn func() (*Client, error)) *Lazy {
	return &Lazy{newFn: newFn}
}

// Client returns the underlying client, constructing it if needed.
func (l *Lazy) Client() (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	c, err := l.newFn()
	if err != nil {
		return nil, err
	}
	l.client = c
	return c, nil
}

func (l *Lazy) GenerateContent(ctx context.Context, model string, req GenerateRequest) (*GenerateResponse, error) {
	c, err := l.Client()
	if err != nil {
		return nil, err
	}
	return c.GenerateContent(ctx, model, req)
}

func (l *Lazy) GenerateImages(ctx context.Context, model, prompt string, opts ImageOptions) ([]GeneratedImage, error) {
	c, err := l.Client()
	if err != nil {
		return nil, err
	}
	return c.GenerateImages(ctx, model, prompt, opts)
}
