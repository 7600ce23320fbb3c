package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
)

// GrantService is the subset of Service used by the HTTP handler.
type GrantService interface {
	Assign(ctx context.Context, actor Actor, req MutationRequest) (*SubjectPermissions, error)
	Replace(ctx context.Context, actor Actor, req MutationRequest) (*SubjectPermissions, error)
	Remove(ctx context.Context, actor Actor, req MutationRequest) (*RemoveResult, error)
	Resolve(ctx context.Context, actor Actor, subjectID int64) (*SubjectPermissions, error)
	ResolveVisible(ctx context.Context, actor Actor) ([]SubjectPermissions, error)
	Catalog(ctx context.Context) (*CatalogListing, error)
}

// Handler exposes grant management over JSON.
type Handler struct {
	logger    *slog.Logger
	service   GrantService
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service GrantService, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers catalog and subject permission routes. The router
// must already run Middleware.Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/catalog", h.catalog)
	r.Get("/subjects/permissions", h.listVisible)
	r.Get("/subjects/{id}/permissions", h.getSubject)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(RoleAdmin, RoleSuperadmin))
		r.Post("/subjects/{id}/permissions", h.mutate(OpAssign))
		r.Put("/subjects/{id}/permissions", h.mutate(OpReplace))
		r.Delete("/subjects/{id}/permissions", h.mutate(OpRemove))
	})
}

type mutationPayload struct {
	ModuleID    int64    `json:"module_id" validate:"gt=0"`
	Permissions []string `json:"permissions" validate:"required,min=1,max=16,dive,required,max=32"`
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.Catalog(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) listVisible(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	subjects, err := h.service.ResolveVisible(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, subjects)
}

func (h *Handler) getSubject(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	sp, err := h.service.Resolve(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
}

func (h *Handler) mutate(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		id, ok := subjectIDParam(w, r)
		if !ok {
			return
		}
		var payload mutationPayload
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
			return
		}
		if err := h.validator.Struct(payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request", invalidFields(err)...)
			return
		}
		req := MutationRequest{SubjectID: id, ModuleID: payload.ModuleID, Permissions: payload.Permissions}

		switch op {
		case OpAssign:
			sp, err := h.service.Assign(r.Context(), actor, req)
			if err != nil {
				h.fail(w, r, op, err)
				return
			}
			httpx.JSON(w, http.StatusCreated, sp)
		case OpReplace:
			sp, err := h.service.Replace(r.Context(), actor, req)
			if err != nil {
				h.fail(w, r, op, err)
				return
			}
			httpx.JSON(w, http.StatusOK, sp)
		case OpRemove:
			res, err := h.service.Remove(r.Context(), actor, req)
			if err != nil {
				h.fail(w, r, op, err)
				return
			}
			httpx.JSON(w, http.StatusOK, res)
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op Operation, err error) {
	if IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	if errors.Is(err, ErrAuthorizationDenied) {
		h.logger.Info("grant mutation denied", slog.String("op", op.String()), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func subjectIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid subject id")
		return 0, false
	}
	return id, true
}

// invalidFields flattens validator errors into "field:tag" entries.
func invalidFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+":"+fe.Tag())
	}
	return out
}
