package http

import (
	"context"
	"net/http"
	"strings"

	"msghub/internal/domain"

	"github.com/google/uuid"
)

type ctxKey string

const accountIDKey ctxKey = "account_id"

// requireAuth verifies the bearer token and stores the account id in the
// request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
			writeError(w, r, h.log, domain.ErrUnauthenticated)
			return
		}
		accountID, err := h.tokens.Verify(strings.TrimPrefix(raw, "Bearer "))
		if err != nil {
			writeError(w, r, h.log, domain.ErrUnauthenticated)
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return id, ok
}
