package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ms-orders/internal/logger"
	"ms-orders/internal/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Middleware admits only verified tokens of type "user" and puts the user id in the request context.
func Middleware(verifier Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				deny(w, http.StatusUnauthorized, "Unauthorized", err)
				return
			}

			id, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("AUTH", fmt.Sprintf("%s %s rejected: %v", r.Method, r.URL.Path, err))
				deny(w, http.StatusUnauthorized, "Unauthorized", errors.New("invalid token"))
				return
			}
			if id.Type != userType {
				log.LogSecurity("AUTH", fmt.Sprintf("token of type %q used on %s", id.Type, r.URL.Path))
				deny(w, http.StatusForbidden, "Forbidden", errors.New("user access required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id.UserID)))
		})
	}
}

func deny(w http.ResponseWriter, status int, message string, err error) {
	_ = utils.WriteJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) int64 {
	if uid, ok := ctx.Value(userIDKey).(int64); ok {
		return uid
	}
	return 0
}
