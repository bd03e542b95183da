package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"gemini-relay/internal/config"
	apierrors "gemini-relay/internal/errors"
	"gemini-relay/internal/gemini"
)

type contextKey struct{}

var requestIDKey = contextKey{}

// Generator is the upstream call the relay makes once per request.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (*gemini.GenerateContentResponse, error)
}

type TextResponse struct {
	Text string `json:"text"`
}

type Service struct {
	cfg       *config.Config
	generator Generator
	logger    *slog.Logger
}

// NewService wires the relay. A nil generator gets a gemini.Client built from
// cfg.Upstream.
func NewService(cfg *config.Config, generator Generator, logger *slog.Logger) *Service {
	if generator == nil {
		generator = gemini.NewClient(cfg.Upstream, nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Service{
		cfg:       cfg,
		generator: generator,
		logger:    logger,
	}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	SetCORSHeaders(w.Header())
	defer s.recoverPanic(w, r)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		WriteMethodNotAllowed(w)
		return
	}

	text, err := s.generate(r)
	if err != nil {
		apierrors.WriteError(w, s.logger, err, requestIDFromContext(r.Context()))
		return
	}

	writeJSON(w, http.StatusOK, TextResponse{Text: text})
}

func (s *Service) generate(r *http.Request) (string, error) {
	if !s.cfg.HasCredential() {
		return "", apierrors.Configuration(fmt.Errorf("missing %s environment variable", config.EnvAPIKey))
	}

	prompt, err := readPrompt(r.Body)
	if err != nil {
		return "", err
	}

	resp, err := s.generator.GenerateContent(r.Context(), prompt)
	if err != nil {
		if errors.Is(err, gemini.ErrMissingAPIKey) {
			return "", apierrors.Configuration(err)
		}
		return "", apierrors.Upstream(err)
	}

	return gemini.TextOrFallback(resp), nil
}

// readPrompt accepts only a non-empty JSON string in the prompt field.
func readPrompt(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", apierrors.Client(http.StatusBadRequest, "Failed to read request body.")
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", apierrors.Client(http.StatusBadRequest, apierrors.MsgPromptRequired)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", apierrors.Client(http.StatusBadRequest, apierrors.MsgInvalidJSON)
	}

	prompt, ok := payload["prompt"].(string)
	if !ok || prompt == "" {
		return "", apierrors.Client(http.StatusBadRequest, apierrors.MsgPromptRequired)
	}
	return prompt, nil
}

func (s *Service) recoverPanic(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	err := fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
	apierrors.WriteError(w, s.logger, apierrors.Unexpected(err), requestIDFromContext(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apierrors.Write(w, http.StatusInternalServerError, apierrors.MsgInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
