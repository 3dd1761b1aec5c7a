package web

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request identifier on requests and
// responses.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an identifier unless the client supplied
// one, echoing it on the response so failures can be correlated across
// services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
