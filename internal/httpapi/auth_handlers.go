package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"passport.org/internal/auth"
	"passport.org/internal/obs"
	"passport.org/internal/throttle"
)

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetConfirmRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type accountView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Active      bool       `json:"active"`
	Verified    bool       `json:"verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type authResponse struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	Account          accountView `json:"account"`
	Roles            []string    `json:"roles"`
}

func viewAccount(acct *auth.Account) accountView {
	return accountView{
		ID:          acct.ID,
		Email:       acct.Email,
		FirstName:   acct.FirstName,
		LastName:    acct.LastName,
		Active:      acct.Active,
		Verified:    acct.Verified,
		LastLoginAt: acct.LastLoginAt,
		CreatedAt:   acct.CreatedAt,
	}
}

func authView(pair auth.TokenPair, acct *auth.Account, roles []string) authResponse {
	return authResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Account:          viewAccount(acct),
		Roles:            roles,
	}
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	pair, acct, roles, err := a.auth.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName, requestMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authView(pair, acct, roles))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ip := clientIP(r)
	key := throttle.Key(ip)

	retryAfter, err := a.throttle.Allow(r.Context(), key)
	switch {
	case errors.Is(err, throttle.ErrLocked):
		obs.CountThrottleRejection()
		obs.CountLogin("throttled")
		secs := int(retryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusTooManyRequests, "too many failed login attempts, try again later")
		return
	case err != nil:
		// Throttle store outage fails open; the attempt still runs.
		obs.Logger().Warn().Err(err).Msg("login throttle unavailable")
	}

	var req loginRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	pair, acct, roles, err := a.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if terr := a.throttle.RecordFailure(r.Context(), key); terr != nil {
				obs.Logger().Warn().Err(terr).Msg("record login failure")
			}
			obs.CountLogin("invalid")
		}
		handleAuthError(w, r, err)
		return
	}
	if terr := a.throttle.RecordSuccess(r.Context(), key); terr != nil {
		obs.Logger().Warn().Err(terr).Msg("clear login failures")
	}
	obs.CountLogin("success")
	writeJSON(w, http.StatusOK, authView(pair, acct, roles))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	pair, acct, roles, err := a.sessions.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		obs.CountRefresh("rejected")
		handleAuthError(w, r, err)
		return
	}
	obs.CountRefresh("rotated")
	writeJSON(w, http.StatusOK, authView(pair, acct, roles))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.Logout(r.Context(), p.AccountID, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	token, ok := TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	acct, roles, err := a.sessions.Verify(r.Context(), token, p.AccountID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"account": viewAccount(acct),
		"roles":   roles,
	})
}

func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	a.auth.RequestPasswordReset(r.Context(), req.Email, requestMeta(r))
	// Same answer whether or not the address exists.
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address is registered, reset instructions have been sent",
	})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/auth/password-reset/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	var req resetConfirmRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	err := a.auth.ResetPassword(r.Context(), token, requestMeta(r))
	handleAuthError(w, r, err)
}
