package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// requestIDHexLength is the number of hex characters carried after the
// "req-" prefix.
const requestIDHexLength = 12

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// RequestID creates a middleware that tags each request with an identifier.
// If the request already carries an X-Request-Id header, that value is used;
// otherwise a new one is generated. The identifier is echoed on the response
// and stored in the request context for log correlation.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = generateRequestID()
			}

			w.Header().Set("X-Request-Id", requestID)

			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the request context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}

	return "unknown"
}

// generateRequestID returns a fresh "req-" identifier.
func generateRequestID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")

	return "req-" + hex[:requestIDHexLength]
}
