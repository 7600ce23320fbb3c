package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
	"github.com/grantkeeper/grantkeeper/internal/shared"
)

// SubjectLookup loads the subject behind a session.
type SubjectLookup interface {
	GetSubject(ctx context.Context, id int64) (*Subject, error)
}

// Middleware wires actor resolution and role checks for HTTP handlers.
type Middleware struct {
	Subjects SubjectLookup
	Logger   *slog.Logger
}

// Authenticate resolves the session user into an Actor. Requests without a
// logged-in session, or whose subject no longer exists, get 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		subject, err := m.Subjects.GetSubject(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("rbac load actor", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		ctx := ContextWithActor(r.Context(), Actor{ID: subject.ID, Role: subject.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole ensures the actor holds one of roles.
func (m Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "role "+actor.Role.String()+" not allowed")
		})
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
