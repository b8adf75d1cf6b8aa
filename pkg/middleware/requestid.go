// Package middleware contains the HTTP middlewares shared by the server.
package middleware

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
)

type contextKey string

// RequestIDKey is the context key for the request ID.
const RequestIDKey contextKey = "request_id"

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client supplied request IDs.
const maxRequestIDLength = 128

// RequestID assigns a random UUID to each request unless the client already provided one.
// The ID is stored in the request context and echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)

		if id == "" || len(id) > maxRequestIDLength {
			generated, err := uuid.NewV4()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			id = generated.String()
		}

		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestID returns the request ID stored in ctx, or an empty string.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)

	return id
}
