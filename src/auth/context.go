// Package auth carries the user id authenticated upstream into request contexts.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserIDHeader is set by the gateway in front of the engine after it authenticated the caller.
const UserIDHeader = "X-User-ID"

func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok && userID != 0
}

// RequireUser rejects requests without a valid user id header.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		id, err := strconv.ParseUint(raw, 10, 32)
		if raw == "" || err != nil || id == 0 {
			logger.WithFields(map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("request without a valid user id")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uint(id))))
	})
}
