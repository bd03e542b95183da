package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gemini-relay/internal/config"
)

const maxErrorBody = 64 * 1024

var ErrMissingAPIKey = errors.New("gemini: api key is not configured")

// StatusError reports a non-2xx upstream response. Body is kept for
// server-side logging only.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	message := extractMessage(e.Body)
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("gemini api failed with status %d: %s", e.StatusCode, message)
}

type Client struct {
	apiBase string
	model   string
	apiKey  config.Secret
	timeout time.Duration
	client  *http.Client
}

// NewClient builds a client for the given upstream. A nil httpClient gets a
// clone of the default transport.
func NewClient(upstream config.Upstream, httpClient *http.Client) *Client {
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		httpClient = &http.Client{Transport: transport}
	}
	return &Client{
		apiBase: upstream.APIBase,
		model:   upstream.Model,
		apiKey:  upstream.APIKey,
		timeout: upstream.Timeout,
		client:  httpClient,
	}
}

// BuildURL renders <apiBase>/v1beta/models/<model>:generateContent?key=<key>.
func BuildURL(apiBase, model, apiKey string) (string, error) {
	base, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parse api_base: %w", err)
	}

	base.Path = strings.TrimRight(base.Path, "/") + "/v1beta/models/" + model + ":generateContent"
	query := url.Values{}
	query.Set("key", apiKey)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

// GenerateContent sends prompt as a single user turn and decodes the reply.
// Transport failures, non-2xx statuses and undecodable bodies are all errors.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (*GenerateContentResponse, error) {
	if c.apiKey.Empty() {
		return nil, ErrMissingAPIKey
	}

	payload, err := json.Marshal(NewUserRequest(prompt))
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	upstreamURL, err := BuildURL(c.apiBase, c.model, c.apiKey.Reveal())
	if err != nil {
		return nil, fmt.Errorf("build upstream url: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", c.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	out := &GenerateContentResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", c.redact(err))
	}
	return out, nil
}

// redact strips the credential from errors that embed the request URL.
func (c *Client) redact(err error) error {
	if err == nil || c.apiKey.Empty() {
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, url.QueryEscape(c.apiKey.Reveal()), c.apiKey.String())
		urlErr.URL = strings.ReplaceAll(urlErr.URL, c.apiKey.Reveal(), c.apiKey.String())
	}
	if strings.Contains(err.Error(), c.apiKey.Reveal()) {
		return errors.New(strings.ReplaceAll(err.Error(), c.apiKey.Reveal(), c.apiKey.String()))
	}
	return err
}

// extractMessage pulls error.message out of a Google API error body, falling
// back to the trimmed raw body.
func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		return trimmed
	}

	if errObj, ok := generic["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}

	if msg, ok := generic["message"].(string); ok && strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg)
	}

	return trimmed
}
