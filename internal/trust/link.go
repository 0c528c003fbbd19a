package trust

import "time"

// LinkKind distinguishes persisted relationships from synthesized community trust.
type LinkKind string

const (
	LinkDirect    LinkKind = "direct"
	LinkCommunity LinkKind = "community"
)

// Link is the channel through which trust between two organizations was resolved.
// It is either a DirectLink backed by a stored relationship or a CommunityLink
// inferred from shared group membership. CommunityLink values are never stored.
type Link interface {
	Kind() LinkKind
	TrustLevel() TrustLevel
	Effective(now time.Time) bool
	isLink()
}

// DirectLink wraps a persisted relationship. Reverse is set when the relationship
// was found in the target→source direction and applied because it is bilateral.
type DirectLink struct {
	Relationship Relationship `json:"relationship"`
	Reverse      bool         `json:"reverse"`
}

func (DirectLink) Kind() LinkKind                 { return LinkDirect }
func (l DirectLink) TrustLevel() TrustLevel       { return l.Relationship.TrustLevel }
func (l DirectLink) Effective(now time.Time) bool { return l.Relationship.IsEffective(now) }
func (DirectLink) isLink()                        {}

// CommunityLink is implicit trust between two active members of the same active group.
// It behaves as an active community relationship approved by both sides.
type CommunityLink struct {
	GroupID            string     `json:"group_id"`
	GroupName          string     `json:"group_name"`
	SourceOrganization string     `json:"source_organization"`
	TargetOrganization string     `json:"target_organization"`
	Level              TrustLevel `json:"trust_level"`
}

func (CommunityLink) Kind() LinkKind           { return LinkCommunity }
func (l CommunityLink) TrustLevel() TrustLevel { return l.Level }

// Effective is always true: the link only exists while both memberships and the
// group are active.
func (CommunityLink) Effective(time.Time) bool { return true }
func (CommunityLink) isLink()                  {}

// Resolution is the outcome of resolving trust from one organization to another.
type Resolution struct {
	Level TrustLevel `json:"trust_level"`
	Link  Link       `json:"link"`
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// Link is nil when no trust channel exists or the requester owns the intelligence.
	Link Link `json:"link,omitempty"`
}

// SharingPartner is one recipient channel produced by fan-out enumeration.
type SharingPartner struct {
	OrganizationID string     `json:"organization"`
	Level          TrustLevel `json:"trust_level"`
	Link           Link       `json:"link"`
}

// UniqueRecipients collapses partners reachable through several channels into one
// entry per organization, keeping the channel with the highest numerical trust.
// First-seen order is preserved.
func UniqueRecipients(partners []SharingPartner) []SharingPartner {
	index := make(map[string]int, len(partners))
	out := make([]SharingPartner, 0, len(partners))
	for _, p := range partners {
		if i, ok := index[p.OrganizationID]; ok {
			if p.Level.NumericalValue > out[i].Level.NumericalValue {
				out[i] = p
			}
			continue
		}
		index[p.OrganizationID] = len(out)
		out = append(out, p)
	}
	return out
}
