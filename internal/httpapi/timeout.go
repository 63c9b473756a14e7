package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds next to timeout. A request that runs out of time
// gets a 503 in the usual error envelope.
func TimeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(errorResponse{
			RequestID: requestIDFromRequest(r),
			Error: responseError{
				Code:    "timeout",
				Message: "request timed out",
			},
		})
		w.Header().Set("Content-Type", "application/json")
		http.TimeoutHandler(next, timeout, string(body)).ServeHTTP(w, r)
	})
}
