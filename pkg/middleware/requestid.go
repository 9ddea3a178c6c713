package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nasher721/Extract721/pkg/logger"
)

// HeaderRequestID is the header carrying the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestID propagates the caller's X-Request-ID or assigns a fresh uuid,
// echoes it on the response and stores it in the request context for
// logger.FromContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// Chain applies middlewares so the first one listed is outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
