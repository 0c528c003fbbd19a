package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tisp.org/internal/trust"
)

// auditTrail lists trust log entries, newest first. Callers other than platform
// administrators only see entries that involve their own organization.
func (a *API) auditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	filter := trust.LogFilter{
		Organization:   strings.TrimSpace(q.Get("organization")),
		RelationshipID: strings.TrimSpace(q.Get("relationship")),
		GroupID:        strings.TrimSpace(q.Get("group")),
		Action:         trust.Action(strings.TrimSpace(q.Get("action"))),
		Limit:          limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if a.issuer != nil && !isPlatformAdmin(r) {
		filter.Organization = actingOrg(r, "")
		if filter.Organization == "" {
			writeError(w, r, http.StatusForbidden, "an organization is required to read the trust log")
			return
		}
	}

	entries, err := a.trust.AuditTrail(r.Context(), filter)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": orEmpty(entries)})
}
