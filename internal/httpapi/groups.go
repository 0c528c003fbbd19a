package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tisp.org/internal/trust"
)

type createGroupRequest struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	CreatorOrganization string         `json:"creator_organization"`
	GroupType           string         `json:"group_type"`
	IsPublic            *bool          `json:"is_public"`
	RequiresApproval    *bool          `json:"requires_approval"`
	DefaultTrustLevel   string         `json:"default_trust_level"`
	GroupPolicies       map[string]any `json:"group_policies"`
}

type membershipRequest struct {
	Organization   string `json:"organization"`
	MembershipType string `json:"membership_type"`
	// ActingOrganization is the administrator organization performing the
	// action. It defaults to the caller's organization.
	ActingOrganization string `json:"acting_organization"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	group, err := a.groups.CreateTrustGroup(r.Context(), actor(r), trust.CreateGroupInput{
		Name:                req.Name,
		Description:         req.Description,
		CreatorOrganization: actingOrg(r, req.CreatorOrganization),
		Type:                trust.GroupType(strings.ToLower(strings.TrimSpace(req.GroupType))),
		IsPublic:            boolOr(req.IsPublic, true),
		RequiresApproval:    boolOr(req.RequiresApproval, false),
		DefaultTrustLevel:   req.DefaultTrustLevel,
		Policies:            req.GroupPolicies,
	})
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/groups/"+group.ID)
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.groups.ListPublicGroups(r.Context())
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": orEmpty(groups)})
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := a.groups.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	members, err := a.groups.Members(r.Context(), groupID)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trust_group": groupID,
		"members":     orEmpty(members),
	})
}

func (a *API) joinGroup(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.groups.JoinTrustGroup(r.Context(), chi.URLParam(r, "id"), actingOrg(r, req.Organization), actor(r),
		trust.MembershipType(strings.ToLower(strings.TrimSpace(req.MembershipType))))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	code := http.StatusCreated
	if m.Type == trust.MembershipPending {
		code = http.StatusAccepted
	}
	writeJSON(w, code, m)
}

func (a *API) leaveGroup(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org := actingOrg(r, req.Organization)
	left, err := a.groups.LeaveTrustGroup(r.Context(), chi.URLParam(r, "id"), org, actor(r))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization": org,
		"left":         left,
	})
}

func (a *API) promoteMember(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Organization) == "" {
		writeError(w, r, http.StatusBadRequest, "organization is required")
		return
	}
	newType := trust.MembershipType(strings.ToLower(strings.TrimSpace(req.MembershipType)))
	if newType == "" {
		newType = trust.MembershipAdministrator
	}
	m, err := a.groups.PromoteMember(r.Context(), chi.URLParam(r, "id"), req.Organization,
		actingOrg(r, req.ActingOrganization), actor(r), newType)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) deactivateGroup(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	groupID := chi.URLParam(r, "id")
	if err := a.groups.DeactivateGroup(r.Context(), groupID, actingOrg(r, req.ActingOrganization), actor(r)); err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trust_group": groupID,
		"is_active":   false,
	})
}

func (a *API) approveMember(w http.ResponseWriter, r *http.Request) {
	a.decideMember(w, r, a.groups.ApproveMembership)
}

func (a *API) rejectMember(w http.ResponseWriter, r *http.Request) {
	a.decideMember(w, r, a.groups.RejectMembership)
}

type decideFunc func(ctx context.Context, groupID, org, approvingOrg string, actor trust.Actor) (trust.Membership, error)

func (a *API) decideMember(w http.ResponseWriter, r *http.Request, decide decideFunc) {
	var req membershipRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := decide(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "org"),
		actingOrg(r, req.ActingOrganization), actor(r))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
