package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tisp.org/internal/audit"
	"tisp.org/internal/trust"
)

type tokenRequest struct {
	User         string `json:"user"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken mints a token for any claimed identity. It exists for local
// development and smoke tests and is disabled unless DevTokens is set.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens || a.issuer == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}

	token, expiresAt, err := a.issuer.GenerateToken(trust.Principal{
		User:         user,
		Organization: req.Organization,
		RoleName:     req.Role,
	}, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	_ = audit.Emit(r.Context(), a.logger, "auth.token.issued", map[string]any{
		"user":         user,
		"organization": req.Organization,
		"role":         req.Role,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
