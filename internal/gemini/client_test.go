package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-relay/internal/config"
	"gemini-relay/internal/gemini"
)

func TestBuildURL(t *testing.T) {
	got, err := gemini.BuildURL("https://a.example.com/prefix/", "gemini-2.0-flash", "k&y")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com/prefix/v1beta/models/gemini-2.0-flash:generateContent?key=k%26y", got)
}

func TestGenerateContentSendsSingleUserTurn(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "target-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"contents":[{"role":"user","parts":[{"text":"hello"}]}]}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hi there"}]}}]}`))
	}))
	defer upstream.Close()

	client := newClient(upstream.URL, "target-key", time.Second)
	resp, err := client.GenerateContent(context.Background(), "hello")
	require.NoError(t, err)

	text, ok := gemini.ExtractText(resp)
	assert.True(t, ok)
	assert.Equal(t, "Hi there", text)
}

func TestGenerateContentStatusError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "target-key", time.Second).GenerateContent(context.Background(), "hello")
	require.Error(t, err)

	var statusErr *gemini.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "quota exceeded")
	assert.Contains(t, string(statusErr.Body), "RESOURCE_EXHAUSTED")
}

func TestGenerateContentStatusErrorWithPlainBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("backend failure"))
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "target-key", time.Second).GenerateContent(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend failure")
	assert.Contains(t, err.Error(), "502")
}

func TestGenerateContentInvalidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "target-key", time.Second).GenerateContent(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode upstream response")
}

func TestGenerateContentTimeoutRedactsKey(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	_, err := newClient(upstream.URL, "very-secret-key", 50*time.Millisecond).GenerateContent(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	assert.NotContains(t, err.Error(), "very-secret-key")
}

func TestGenerateContentTransportErrorRedactsKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := upstream.URL
	upstream.Close()

	_, err := newClient(addr, "very-secret-key", time.Second).GenerateContent(context.Background(), "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "very-secret-key")
}

func TestGenerateContentWithoutKey(t *testing.T) {
	_, err := newClient("http://127.0.0.1:1", "", time.Second).GenerateContent(context.Background(), "hello")
	assert.ErrorIs(t, err, gemini.ErrMissingAPIKey)
}

func TestExtractText(t *testing.T) {
	cases := map[string]string{
		"no candidates":     `{}`,
		"empty candidates":  `{"candidates":[]}`,
		"no content":        `{"candidates":[{"finishReason":"SAFETY"}]}`,
		"no parts":          `{"candidates":[{"content":{}}]}`,
		"empty text":        `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`,
		"candidates object": `{"candidates":{"note":"not a list"}}`,
		"content string":    `{"candidates":[{"content":"hi"}]}`,
		"parts object":      `{"candidates":[{"content":{"parts":{"text":"hi"}}}]}`,
		"numeric text":      `{"candidates":[{"content":{"parts":[{"text":5}]}}]}`,
		"null text":         `{"candidates":[{"content":{"parts":[{"text":null}]}}]}`,
		"array body":        `[1,2]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var resp gemini.GenerateContentResponse
			require.NoError(t, json.Unmarshal([]byte(body), &resp))

			_, ok := gemini.ExtractText(&resp)
			assert.False(t, ok)
			assert.Equal(t, gemini.FallbackText, gemini.TextOrFallback(&resp))
		})
	}

	_, ok := gemini.ExtractText(nil)
	assert.False(t, ok)
}

func TestExtractTextIgnoresUnreadFields(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"Hi there"}],"role":7},"finishReason":1,"safetyRatings":"none"}],"usageMetadata":[]}`

	var resp gemini.GenerateContentResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	text, ok := gemini.ExtractText(&resp)
	assert.True(t, ok)
	assert.Equal(t, "Hi there", text)
}

func newClient(apiBase, key string, timeout time.Duration) *gemini.Client {
	return gemini.NewClient(config.Upstream{
		APIBase: apiBase,
		Model:   "test-model",
		APIKey:  config.Secret(key),
		Timeout: timeout,
	}, nil)
}
