// Copyright 2025 James Ross
package controlplane

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// bearerAuthMiddleware accepts a request only if its Authorization header
// carries "Bearer <token>" matching one of allowed. An empty allowed list
// denies every request: a control plane with no configured token cannot be
// started open to the network.
func bearerAuthMiddleware(log *zap.Logger, allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "AUTH_MISSING", "Authorization header required")
				return
			}
			for _, candidate := range allowed {
				if candidate == "" {
					continue
				}
				if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(candidate)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Warn("control plane: rejected request with invalid bearer token", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID", "invalid bearer token")
		})
	}
}

// requestIDMiddleware stamps every response with an X-Request-ID, generating
// one when the caller did not supply one.
func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recoveryMiddleware converts a panic in any handler into a 500 instead of
// taking down the whole control-plane process.
func recoveryMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("control plane: panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method))
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
