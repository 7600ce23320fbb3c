package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
)

func newTestRouter(t *testing.T, actor Actor) (http.Handler, *memStore) {
	t.Helper()
	svc, store, _ := newFixture(t)
	handler := NewHandler(nil, svc, Middleware{Subjects: store})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	})
	handler.MountRoutes(r)
	return r, store
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	return p
}

func TestHandlerAssignAndConflict(t *testing.T) {
	h, _ := newTestRouter(t, superActor)

	rr := do(h, http.MethodPost, "/subjects/2/permissions", `{"module_id":10,"permissions":["add","edit"]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var sp SubjectPermissions
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sp))
	assert.Equal(t, []Action{ActionAdd, ActionEdit}, sp.Actions("billing"))

	rr = do(h, http.MethodPost, "/subjects/2/permissions", `{"module_id":10,"permissions":["edit"]}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, []string{"edit"}, decodeProblem(t, rr).Invalid)
}

func TestHandlerResolveJSONShape(t *testing.T) {
	h, store := newTestRouter(t, superActor)
	store.grant(userUID, billing, ptr(superID), ActionView)

	rr := do(h, http.MethodGet, "/subjects/4/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":4,"email":"u@example.com","role":"user","created_by":2,
		"modules":[{"module_name":"billing","permissions":["view"]}]}`, rr.Body.String())
}

func TestHandlerInvalidActionsListed(t *testing.T) {
	h, _ := newTestRouter(t, superActor)

	rr := do(h, http.MethodPut, "/subjects/4/permissions", `{"module_id":10,"permissions":["view","publish"]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []string{"publish"}, decodeProblem(t, rr).Invalid)
}

func TestHandlerPayloadValidation(t *testing.T) {
	h, _ := newTestRouter(t, superActor)

	rr := do(h, http.MethodPost, "/subjects/4/permissions", `{"module_id":0,"permissions":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	p := decodeProblem(t, rr)
	assert.Contains(t, p.Invalid, "ModuleID:gt")

	rr = do(h, http.MethodPost, "/subjects/abc/permissions", `{"module_id":10,"permissions":["view"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodPost, "/subjects/4/permissions", `{"module_id":10,"permissions":["view"],"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerRemoveNotHeld(t *testing.T) {
	h, store := newTestRouter(t, superActor)
	store.grant(userUID, billing, ptr(superID), ActionView)

	rr := do(h, http.MethodDelete, "/subjects/4/permissions", `{"module_id":10,"permissions":["delete"]}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(h, http.MethodDelete, "/subjects/4/permissions", `{"module_id":10,"permissions":["view"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res RemoveResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, 1, res.Removed)
}

func TestHandlerUserRoleCannotMutate(t *testing.T) {
	h, _ := newTestRouter(t, Actor{ID: userUID, Role: RoleUser})

	rr := do(h, http.MethodPost, "/subjects/4/permissions", `{"module_id":10,"permissions":["view"]}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(h, http.MethodGet, "/subjects/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []SubjectPermissions
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, userUID, list[0].SubjectID)
}

func TestHandlerStorageFailureIsGeneric(t *testing.T) {
	h, store := newTestRouter(t, superActor)
	store.data.failOn = "GetSubject"

	rr := do(h, http.MethodPost, "/subjects/4/permissions", `{"module_id":10,"permissions":["view"]}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestHandlerCatalog(t *testing.T) {
	h, _ := newTestRouter(t, superActor)
	rr := do(h, http.MethodGet, "/catalog", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing CatalogListing
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&listing))
	assert.Len(t, listing.Modules, 2)
	assert.Equal(t, ActionAdd, listing.Permissions[0].Action)
}
