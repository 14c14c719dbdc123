package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

// AdminUserHandlers exposes the back-office account surface: paged
// listings, per-account lookup, profile and role edits, and deletion.
type AdminUserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewAdminUserHandlers wires the user service into the admin endpoints.
func NewAdminUserHandlers(authn *auth.Authenticator, users services.UserService) *AdminUserHandlers {
	return &AdminUserHandlers{authn: authn, users: users}
}

// Routes registers /admin/users endpoints on the provided router. All
// routes require the admin or moderator role.
func (h *AdminUserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleModerator))
	}

	r.Get("/users", h.list)
	r.Get("/users/{userID}", h.get)
	r.Put("/users/{userID}", h.update)
	r.Delete("/users/{userID}", h.delete)
}

type userListResponse struct {
	Items         []userPayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

func (h *AdminUserHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultUserPageSize, maxUserPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.users.ListUsers(ctx, pager)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	resp := userListResponse{
		Items:         make([]userPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, user := range page.Items {
		resp.Items = append(resp.Items, buildUserPayload(user))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminUserHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	user, err := h.users.Profile(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type adminUpdateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *AdminUserHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adminUpdateUserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	user, err := h.users.AdminUpdateUser(ctx, services.AdminUpdateUserCommand{
		UserID: chi.URLParam(r, "userID"),
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *AdminUserHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	// Deleting your own signed-in account goes through the profile flow,
	// not the back office.
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID == chi.URLParam(r, "userID") {
		httpx.WriteError(ctx, w, httpx.NewError("self_delete_forbidden", "cannot delete your own account", http.StatusForbidden))
		return
	}

	if err := h.users.DeleteUser(ctx, chi.URLParam(r, "userID")); err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}
