package httpapi

import (
	"net/http"
	"strings"

	"tisp.org/internal/trust"
)

// linkView flattens a trust.Link for JSON output.
type linkView struct {
	Kind           trust.LinkKind `json:"kind"`
	RelationshipID string         `json:"relationship_id,omitempty"`
	Reverse        bool           `json:"reverse,omitempty"`
	Status         string         `json:"status,omitempty"`
	GroupID        string         `json:"group_id,omitempty"`
	GroupName      string         `json:"group_name,omitempty"`
}

func viewLink(l trust.Link) *linkView {
	switch link := l.(type) {
	case trust.DirectLink:
		return &linkView{
			Kind:           link.Kind(),
			RelationshipID: link.Relationship.ID,
			Reverse:        link.Reverse,
			Status:         string(link.Relationship.Status),
		}
	case trust.CommunityLink:
		return &linkView{
			Kind:      link.Kind(),
			GroupID:   link.GroupID,
			GroupName: link.GroupName,
		}
	default:
		return nil
	}
}

type levelView struct {
	Name           string            `json:"name"`
	Level          string            `json:"level"`
	NumericalValue int               `json:"numerical_value"`
	Access         trust.AccessLevel `json:"access_level"`
}

func viewLevel(l trust.TrustLevel) levelView {
	return levelView{
		Name:           l.Name,
		Level:          l.Level,
		NumericalValue: l.NumericalValue,
		Access:         l.EffectiveAccess(),
	}
}

type partnerView struct {
	Organization string    `json:"organization"`
	TrustLevel   levelView `json:"trust_level"`
	Link         *linkView `json:"link"`
}

// checkTrust resolves trust from source to target. A missing channel is a
// normal answer, not an error.
func (a *API) checkTrust(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := actingOrg(r, q.Get("source"))
	target := strings.TrimSpace(q.Get("target"))
	if source == "" || target == "" {
		writeError(w, r, http.StatusBadRequest, "source and target are required")
		return
	}
	if !a.mayViewPair(r, source, target) {
		writeError(w, r, http.StatusForbidden, "cannot query trust between other organizations")
		return
	}
	res, found, err := a.trust.CheckTrustLevel(r.Context(), source, target)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	out := map[string]any{
		"source": source,
		"target": target,
		"found":  found,
	}
	if found {
		out["trust_level"] = viewLevel(res.Level)
		out["link"] = viewLink(res.Link)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) canAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requester := actingOrg(r, q.Get("requester"))
	owner := strings.TrimSpace(q.Get("owner"))
	if requester == "" || owner == "" {
		writeError(w, r, http.StatusBadRequest, "requester and owner are required")
		return
	}
	if !a.mayViewPair(r, requester, owner) {
		writeError(w, r, http.StatusForbidden, "cannot query access between other organizations")
		return
	}
	required := trust.AccessRead
	if raw := q.Get("access_level"); raw != "" {
		lvl, err := trust.ParseAccessLevel(raw)
		if err != nil {
			a.writeTrustError(w, r, err)
			return
		}
		required = lvl
	}
	decision, err := a.trust.CanAccessIntelligence(r.Context(), requester, owner, required)
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requester":    requester,
		"owner":        owner,
		"access_level": required,
		"allowed":      decision.Allowed,
		"reason":       decision.Reason,
		"link":         viewLink(decision.Link),
	})
}

// sharingPartners lists fan-out recipients. unique=true collapses organizations
// reachable over several channels.
func (a *API) sharingPartners(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := actingOrg(r, q.Get("source"))
	if source == "" {
		writeError(w, r, http.StatusBadRequest, "source is required")
		return
	}
	if !a.mayView(r, source) {
		writeError(w, r, http.StatusForbidden, "cannot list partners of another organization")
		return
	}
	partners, err := a.trust.SharingOrganizations(r.Context(), source, q.Get("min_level"))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	if q.Get("unique") == "true" {
		partners = trust.UniqueRecipients(partners)
	}

	out := make([]partnerView, 0, len(partners))
	for _, p := range partners {
		out = append(out, partnerView{
			Organization: p.OrganizationID,
			TrustLevel:   viewLevel(p.Level),
			Link:         viewLink(p.Link),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   source,
		"partners": out,
	})
}
