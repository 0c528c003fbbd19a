package trust

import (
	"fmt"
	"strings"
	"time"
)

// AccessLevel is the fidelity at which an organization may consume another's intelligence.
type AccessLevel string

const (
	AccessNone       AccessLevel = "none"
	AccessRead       AccessLevel = "read"
	AccessSubscribe  AccessLevel = "subscribe"
	AccessContribute AccessLevel = "contribute"
	AccessFull       AccessLevel = "full"
)

// accessOrder is the total order used for every access comparison.
var accessOrder = []AccessLevel{AccessNone, AccessRead, AccessSubscribe, AccessContribute, AccessFull}

// Rank returns the position of a in the access order, or -1 when a is unknown.
func (a AccessLevel) Rank() int {
	for i, lvl := range accessOrder {
		if lvl == a {
			return i
		}
	}
	return -1
}

// ParseAccessLevel normalizes s and validates it against the access order.
func ParseAccessLevel(s string) (AccessLevel, error) {
	lvl := AccessLevel(strings.ToLower(strings.TrimSpace(s)))
	if lvl.Rank() < 0 {
		return "", newError(KindInvalidInput, "unknown access level %q", s)
	}
	return lvl, nil
}

// AnonymizationLevel controls how much producer detail is stripped before sharing.
type AnonymizationLevel string

const (
	AnonymizationNone    AnonymizationLevel = "none"
	AnonymizationMinimal AnonymizationLevel = "minimal"
	AnonymizationPartial AnonymizationLevel = "partial"
	AnonymizationFull    AnonymizationLevel = "full"
	AnonymizationCustom  AnonymizationLevel = "custom"
)

func (a AnonymizationLevel) valid() bool {
	switch a {
	case AnonymizationNone, AnonymizationMinimal, AnonymizationPartial, AnonymizationFull, AnonymizationCustom:
		return true
	}
	return false
}

// tierAccess maps a trust level tag to the access it grants.
var tierAccess = map[string]AccessLevel{
	"complete": AccessFull,
	"high":     AccessContribute,
	"medium":   AccessSubscribe,
	"low":      AccessRead,
	"none":     AccessNone,
}

// TrustLevel is a named, numerically ranked tier.
type TrustLevel struct {
	ID                        string             `json:"id"`
	Name                      string             `json:"name"`
	Level                     string             `json:"level"`
	NumericalValue            int                `json:"numerical_value"`
	Description               string             `json:"description,omitempty"`
	DefaultAccessLevel        AccessLevel        `json:"default_access_level"`
	DefaultAnonymizationLevel AnonymizationLevel `json:"default_anonymization_level"`
	IsActive                  bool               `json:"is_active"`
	IsSystemDefault           bool               `json:"is_system_default"`
	CreatedBy                 string             `json:"created_by,omitempty"`
	CreatedAt                 time.Time          `json:"created_at"`
	UpdatedAt                 time.Time          `json:"updated_at"`
}

// EffectiveAccess resolves the access tier granted by this level. Tags outside the
// fixed tier table fall back to the level's configured default.
func (l TrustLevel) EffectiveAccess() AccessLevel {
	if access, ok := tierAccess[strings.ToLower(l.Level)]; ok {
		return access
	}
	if l.DefaultAccessLevel.Rank() >= 0 {
		return l.DefaultAccessLevel
	}
	return AccessNone
}

// AtLeast reports whether l ranks at or above floor.
func (l TrustLevel) AtLeast(floor int) bool {
	return l.NumericalValue >= floor
}

func (l TrustLevel) String() string {
	return fmt.Sprintf("%s(%d)", l.Name, l.NumericalValue)
}

// RelationshipType classifies how a relationship came to exist.
type RelationshipType string

const (
	RelationshipBilateral    RelationshipType = "bilateral"
	RelationshipCommunity    RelationshipType = "community"
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipFederation   RelationshipType = "federation"
)

func (t RelationshipType) valid() bool {
	switch t {
	case RelationshipBilateral, RelationshipCommunity, RelationshipHierarchical, RelationshipFederation:
		return true
	}
	return false
}

// RelationshipStatus is the lifecycle state of a relationship.
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "pending"
	StatusActive    RelationshipStatus = "active"
	StatusSuspended RelationshipStatus = "suspended"
	StatusRevoked   RelationshipStatus = "revoked"
	StatusExpired   RelationshipStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s RelationshipStatus) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Relationship is a directed trust edge between two organizations.
type Relationship struct {
	ID                 string             `json:"id"`
	SourceOrganization string             `json:"source_organization"`
	TargetOrganization string             `json:"target_organization"`
	TrustLevel         TrustLevel         `json:"trust_level"`
	Type               RelationshipType   `json:"relationship_type"`
	Status             RelationshipStatus `json:"status"`
	IsBilateral        bool               `json:"is_bilateral"`
	ApprovedBySource   bool               `json:"approved_by_source"`
	ApprovedByTarget   bool               `json:"approved_by_target"`
	SourceApprovedBy   string             `json:"source_approved_by,omitempty"`
	TargetApprovedBy   string             `json:"target_approved_by,omitempty"`
	SourceApprovedAt   *time.Time         `json:"source_approved_at,omitempty"`
	TargetApprovedAt   *time.Time         `json:"target_approved_at,omitempty"`
	AccessLevel        AccessLevel        `json:"access_level"`
	AnonymizationLevel AnonymizationLevel `json:"anonymization_level"`
	ValidFrom          time.Time          `json:"valid_from"`
	ValidUntil         *time.Time         `json:"valid_until,omitempty"`
	SharingPreferences map[string]any     `json:"sharing_preferences,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	CreatedBy          string             `json:"created_by"`
	LastModifiedBy     string             `json:"last_modified_by"`
	RevokedBy          string             `json:"revoked_by,omitempty"`
	RevokedAt          *time.Time         `json:"revoked_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsEffective reports whether the relationship currently grants trust: active,
// approved by both sides and not past its validity window.
func (r Relationship) IsEffective(now time.Time) bool {
	if r.Status != StatusActive || !r.ApprovedBySource || !r.ApprovedByTarget {
		return false
	}
	return r.ValidUntil == nil || now.Before(*r.ValidUntil)
}

// Involves reports whether org is either party.
func (r Relationship) Involves(org string) bool {
	return org == r.SourceOrganization || org == r.TargetOrganization
}

// GroupType categorizes a trust group.
type GroupType string

const (
	GroupSector    GroupType = "sector"
	GroupGeography GroupType = "geography"
	GroupPurpose   GroupType = "purpose"
	GroupCommunity GroupType = "community"
	GroupCustom    GroupType = "custom"
)

func (t GroupType) valid() bool {
	switch t {
	case GroupSector, GroupGeography, GroupPurpose, GroupCommunity, GroupCustom:
		return true
	}
	return false
}

// Group is a named cohort whose active members implicitly trust each other.
type Group struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Type              GroupType      `json:"group_type"`
	IsPublic          bool           `json:"is_public"`
	RequiresApproval  bool           `json:"requires_approval"`
	DefaultTrustLevel TrustLevel     `json:"default_trust_level"`
	Administrators    []string       `json:"administrators"`
	Policies          map[string]any `json:"group_policies,omitempty"`
	IsActive          bool           `json:"is_active"`
	CreatedBy         string         `json:"created_by"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsAdministrator reports whether org administers the group.
func (g Group) IsAdministrator(org string) bool {
	for _, admin := range g.Administrators {
		if admin == org {
			return true
		}
	}
	return false
}

func (g *Group) addAdministrator(org string) {
	if !g.IsAdministrator(org) {
		g.Administrators = append(g.Administrators, org)
	}
}

func (g *Group) removeAdministrator(org string) {
	out := make([]string, 0, len(g.Administrators))
	for _, admin := range g.Administrators {
		if admin != org {
			out = append(out, admin)
		}
	}
	g.Administrators = out
}

// MembershipType is an organization's standing within a group.
type MembershipType string

const (
	MembershipMember        MembershipType = "member"
	MembershipAdministrator MembershipType = "administrator"
	MembershipPending       MembershipType = "pending"
	MembershipRejected      MembershipType = "rejected"
)

// Membership links an organization to a group.
type Membership struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"trust_group"`
	OrganizationID string         `json:"organization"`
	Type           MembershipType `json:"membership_type"`
	IsActive       bool           `json:"is_active"`
	InvitedBy      string         `json:"invited_by,omitempty"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
	JoinedAt       *time.Time     `json:"joined_at,omitempty"`
	LeftAt         *time.Time     `json:"left_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Current reports whether the row counts against the one-membership-per-group rule:
// it is active, or it is a pending request that was neither withdrawn nor decided.
func (m Membership) Current() bool {
	return m.IsActive || (m.Type == MembershipPending && m.LeftAt == nil)
}

// Action names a mutating trust operation recorded in the trust log.
type Action string

const (
	ActionRelationshipCreated     Action = "relationship_created"
	ActionRelationshipApproved    Action = "relationship_approved"
	ActionRelationshipActivated   Action = "relationship_activated"
	ActionRelationshipRevoked     Action = "relationship_revoked"
	ActionRelationshipSuspended   Action = "relationship_suspended"
	ActionRelationshipReactivated Action = "relationship_reactivated"
	ActionRelationshipExpired     Action = "relationship_expired"
	ActionTrustLevelModified      Action = "trust_level_modified"
	ActionGroupCreated            Action = "group_created"
	ActionGroupDeactivated        Action = "group_deactivated"
	ActionGroupJoined             Action = "group_joined"
	ActionGroupLeft               Action = "group_left"
	ActionMembershipApproved      Action = "membership_approved"
	ActionMembershipRejected      Action = "membership_rejected"
	ActionMemberPromoted          Action = "member_promoted"
	ActionTrustLevelCreated       Action = "trust_level_created"
	ActionTrustLevelDeactivated   Action = "trust_level_deactivated"
)

// LogEntry is an immutable audit record of a trust action.
type LogEntry struct {
	ID                 string         `json:"id"`
	Action             Action         `json:"action"`
	SourceOrganization string         `json:"source_organization"`
	TargetOrganization string         `json:"target_organization,omitempty"`
	RelationshipID     string         `json:"trust_relationship,omitempty"`
	GroupID            string         `json:"trust_group,omitempty"`
	User               string         `json:"user"`
	Success            bool           `json:"success"`
	FailureReason      string         `json:"failure_reason,omitempty"`
	Details            map[string]any `json:"details"`
	Timestamp          time.Time      `json:"timestamp"`
}

// LogFilter narrows a trust log listing. Zero fields do not filter.
type LogFilter struct {
	Organization   string
	RelationshipID string
	GroupID        string
	Action         Action
	Since          time.Time
	Limit          int
}

// Matches applies the filter to a single entry.
func (f LogFilter) Matches(e LogEntry) bool {
	if f.Organization != "" && e.SourceOrganization != f.Organization && e.TargetOrganization != f.Organization {
		return false
	}
	if f.RelationshipID != "" && e.RelationshipID != f.RelationshipID {
		return false
	}
	if f.GroupID != "" && e.GroupID != f.GroupID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
