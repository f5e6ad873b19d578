package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"passport.org/internal/auth"
)

type updateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required,max=100"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		acct, roles, err := a.auth.Profile(r.Context(), p.AccountID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account": viewAccount(acct),
			"roles":   roles,
		})
	case http.MethodPut:
		var req updateProfileRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		acct, err := a.auth.UpdateProfile(r.Context(), p.AccountID, req.FirstName, req.LastName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": viewAccount(acct)})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.auth.ChangePassword(r.Context(), p.AccountID, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	accounts, total, err := a.auth.ListAccounts(r.Context(), page, pageSize)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		views = append(views, viewAccount(acct))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":  views,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// handleAdminUserScoped serves /api/admin/users/{id} and
// /api/admin/users/{id}/roles.
func (a *API) handleAdminUserScoped(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		acct, roles, err := a.auth.Profile(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account": viewAccount(acct),
			"roles":   roles,
		})
	case "roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req assignRoleRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		if err := a.auth.AssignRole(r.Context(), id, req.Role, requestMeta(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "role assigned"})
	default:
		http.NotFound(w, r)
	}
}

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !p.HasRole(auth.AdminRoleName) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
