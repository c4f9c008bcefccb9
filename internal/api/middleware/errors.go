package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// problemDetail is the RFC 7807 body emitted by middleware-level failures
// (panics, rate limiting). Handler-level problems live in the api package;
// this local copy avoids an import cycle.
//
//nolint:tagliatelle // RFC 7807 extension member uses snake_case
type problemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// writeProblem writes an RFC 7807 response for a middleware-level failure.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) error {
	problem := problemDetail{
		Type:      fmt.Sprintf("https://support-intel.dev/problems/%d", status),
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
