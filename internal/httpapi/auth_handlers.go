package httpapi

import (
	"net/http"
	"strings"
	"time"

	"eduportal.org/internal/audit"
	"eduportal.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := a.validator.Validate(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	res, err := a.authn.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"email":  req.Email,
			"reason": auth.KindOf(err).String(),
		})
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id":    res.User.ID,
		"session_id": res.SessionID,
		"role":       res.User.Role,
	})
	writeData(w, http.StatusOK, res)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if err := a.validator.Validate(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	res, err := a.authn.Refresh(r.Context(), req.RefreshToken)
	fields := map[string]any{"outcome": "success"}
	if sid, ok := a.authn.SessionFromToken(req.RefreshToken); ok {
		fields["session_id"] = sid
	}
	if err != nil {
		fields["outcome"] = auth.KindOf(err).String()
		_ = audit.LogEvent(r.Context(), "auth.refresh", fields)
		writeAuthError(w, r, err)
		return
	}
	fields["expires_at"] = res.AccessTokenExpiresAt.Format(time.RFC3339)
	_ = audit.LogEvent(r.Context(), "auth.refresh", fields)
	writeData(w, http.StatusOK, res)
}

// handleLogout revokes the session named by the bearer token. Expired or
// already revoked tokens still succeed.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeAuthError(w, r, &auth.Error{Kind: auth.KindNoToken})
		return
	}
	if err := a.authn.Logout(r.Context(), token); err != nil {
		writeAuthError(w, r, err)
		return
	}

	fields := map[string]any{}
	if sid, ok := a.authn.SessionFromToken(token); ok {
		fields["session_id"] = sid
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", fields)
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, &auth.Error{Kind: auth.KindNoToken})
		return
	}
	writeData(w, http.StatusOK, id)
}
