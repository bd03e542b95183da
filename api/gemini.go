// Package handler is the serverless entry point. Platforms with a Go runtime
// (Vercel and similar) route every request for /api/gemini to Handler.
package handler

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"

	"gemini-relay/internal/config"
	apierrors "gemini-relay/internal/errors"
	"gemini-relay/internal/relay"
)

var (
	initOnce   sync.Once
	service    http.Handler
	initErr    error
	baseLogger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
)

// Handler serves the relay. Configuration is read from the environment once
// per cold start.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		service, initErr = newService(baseLogger)
	})

	if initErr != nil {
		relay.SetCORSHeaders(w.Header())
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			relay.WriteMethodNotAllowed(w)
			return
		}
		apierrors.WriteError(w, baseLogger, apierrors.Configuration(initErr), "")
		return
	}

	requestID := r.Header.Get("x-vercel-id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	service.ServeHTTP(w, r.WithContext(relay.ContextWithRequestID(r.Context(), requestID)))
}

func newService(logger *slog.Logger) (http.Handler, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return relay.NewService(cfg, nil, logger), nil
}
