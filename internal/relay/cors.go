package relay

import (
	"net/http"

	apierrors "gemini-relay/internal/errors"
)

const allowedMethods = "POST, OPTIONS"

// SetCORSHeaders applies the fixed cross-origin policy. It does not vary by
// request.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowedMethods)
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORSHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// WriteMethodNotAllowed answers any method other than POST or OPTIONS.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", allowedMethods)
	apierrors.Write(w, http.StatusMethodNotAllowed, apierrors.MsgMethodNotAllowed)
}
