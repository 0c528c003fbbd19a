package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tisp.org/internal/trust"
)

type createRelationshipRequest struct {
	SourceOrganization string         `json:"source_organization"`
	TargetOrganization string         `json:"target_organization"`
	TrustLevel         string         `json:"trust_level"`
	RelationshipType   string         `json:"relationship_type"`
	IsBilateral        *bool          `json:"is_bilateral"`
	SharingPreferences map[string]any `json:"sharing_preferences"`
	ValidUntil         *time.Time     `json:"valid_until"`
	Notes              string         `json:"notes"`
}

// actionRequest carries the optional fields shared by relationship transitions.
type actionRequest struct {
	Organization string `json:"organization"`
	Reason       string `json:"reason"`
}

type updateLevelRequest struct {
	TrustLevel string `json:"trust_level"`
	Reason     string `json:"reason"`
}

func (a *API) createRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	relType := trust.RelationshipType(strings.ToLower(strings.TrimSpace(req.RelationshipType)))
	if relType == "" {
		relType = trust.RelationshipBilateral
	}
	bilateral := true
	if req.IsBilateral != nil {
		bilateral = *req.IsBilateral
	}

	rel, err := a.trust.CreateRelationship(r.Context(), actor(r), trust.CreateRelationshipInput{
		SourceOrganization: actingOrg(r, req.SourceOrganization),
		TargetOrganization: req.TargetOrganization,
		TrustLevel:         req.TrustLevel,
		Type:               relType,
		IsBilateral:        bilateral,
		SharingPreferences: req.SharingPreferences,
		ValidUntil:         req.ValidUntil,
		Notes:              req.Notes,
	})
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/relationships/"+rel.ID)
	writeJSON(w, http.StatusCreated, rel)
}

func (a *API) listRelationships(w http.ResponseWriter, r *http.Request) {
	org := actingOrg(r, r.URL.Query().Get("organization"))
	if org == "" {
		writeError(w, r, http.StatusBadRequest, "organization is required")
		return
	}
	if !a.mayView(r, org) {
		writeError(w, r, http.StatusForbidden, "cannot list relationships of another organization")
		return
	}
	rels, err := a.trust.ListRelationships(r.Context(), org)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization":  org,
		"relationships": orEmpty(rels),
	})
}

func (a *API) getRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := a.trust.GetRelationship(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	if !a.mayViewRelationship(r, rel) {
		// Unrelated callers cannot discover relationship ids.
		writeError(w, r, http.StatusNotFound, "relationship not found")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (a *API) approveRelationship(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	activated, err := a.trust.ApproveRelationship(r.Context(), id, actingOrg(r, req.Organization), actor(r))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	a.respondRelationship(w, r, id, map[string]any{"activated": activated})
}

func (a *API) revokeRelationship(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	revoked, err := a.trust.RevokeRelationship(r.Context(), id, actingOrg(r, req.Organization), actor(r), req.Reason)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	a.respondRelationship(w, r, id, map[string]any{"revoked": revoked})
}

func (a *API) suspendRelationship(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.trust.SuspendRelationship(r.Context(), id, actingOrg(r, req.Organization), actor(r), req.Reason); err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	a.respondRelationship(w, r, id, nil)
}

func (a *API) reactivateRelationship(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.trust.ReactivateRelationship(r.Context(), id, actingOrg(r, req.Organization), actor(r)); err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	a.respondRelationship(w, r, id, nil)
}

func (a *API) updateTrustLevel(w http.ResponseWriter, r *http.Request) {
	var req updateLevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TrustLevel) == "" {
		writeError(w, r, http.StatusBadRequest, "trust_level is required")
		return
	}
	id := chi.URLParam(r, "id")
	changed, err := a.trust.UpdateTrustLevel(r.Context(), id, req.TrustLevel, actor(r), req.Reason)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	a.respondRelationship(w, r, id, map[string]any{"changed": changed})
}

// respondRelationship re-reads the relationship after a transition and merges
// the operation's flags into the response.
func (a *API) respondRelationship(w http.ResponseWriter, r *http.Request, id string, extra map[string]any) {
	rel, err := a.trust.GetRelationship(r.Context(), id)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	out := map[string]any{"relationship": rel}
	for k, v := range extra {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// mayView reports whether the caller may read data scoped to org.
func (a *API) mayView(r *http.Request, org string) bool {
	if a.issuer == nil || isPlatformAdmin(r) {
		return true
	}
	return actingOrg(r, "") == org
}

// mayViewPair allows parties to either end of a trust pair.
func (a *API) mayViewPair(r *http.Request, first, second string) bool {
	return a.mayView(r, first) || a.mayView(r, second)
}

func (a *API) mayViewRelationship(r *http.Request, rel trust.Relationship) bool {
	if a.issuer == nil || isPlatformAdmin(r) {
		return true
	}
	return rel.Involves(actingOrg(r, ""))
}
