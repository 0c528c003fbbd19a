package trust

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tisp.org/internal/ids"
)

// GroupService manages trust groups and their memberships.
type GroupService struct {
	core
}

// NewGroupService constructs the group service over the same store as Service.
func NewGroupService(store Store, opts ...Option) (*GroupService, error) {
	c, err := newCore(store, opts)
	if err != nil {
		return nil, err
	}
	return &GroupService{core: c}, nil
}

// CreateGroupInput describes a new trust group.
type CreateGroupInput struct {
	Name                string
	Description         string
	CreatorOrganization string
	Type                GroupType
	IsPublic            bool
	RequiresApproval    bool
	// DefaultTrustLevel is the tier name granted between members.
	DefaultTrustLevel string
	Policies          map[string]any
}

// CreateTrustGroup creates a group whose sole administrator is the creator.
func (g *GroupService) CreateTrustGroup(ctx context.Context, actor Actor, in CreateGroupInput) (Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Group{}, newError(KindEmptyGroupName, "group name must not be empty")
	}
	creator := strings.TrimSpace(in.CreatorOrganization)
	if creator == "" {
		return Group{}, newError(KindInvalidInput, "creator organization is required")
	}
	if err := requireActFor(actor, creator); err != nil {
		return Group{}, err
	}
	groupType := in.Type
	if groupType == "" {
		groupType = GroupCommunity
	}
	if !groupType.valid() {
		return Group{}, newError(KindInvalidInput, "unknown group type %q", in.Type)
	}

	var group Group
	err := g.mutate(ctx, func(j *journal) error {
		level, err := g.groupLevel(ctx, j, actor, in.DefaultTrustLevel)
		if err != nil {
			return err
		}
		user := userOf(actor)
		group = Group{
			ID:                ids.New(),
			Name:              name,
			Description:       in.Description,
			Type:              groupType,
			IsPublic:          in.IsPublic,
			RequiresApproval:  in.RequiresApproval,
			DefaultTrustLevel: level,
			Administrators:    []string{creator},
			Policies:          in.Policies,
			IsActive:          true,
			CreatedBy:         user,
			CreatedAt:         j.now,
			UpdatedAt:         j.now,
		}
		if err := j.tx.Groups().Create(ctx, &group); err != nil {
			if isConflict(err) {
				return newError(KindGroupNameTaken, "group name %q is already taken", name)
			}
			return persistence("create group", err)
		}
		joined := j.now
		m := Membership{
			ID:             ids.New(),
			GroupID:        group.ID,
			OrganizationID: creator,
			Type:           MembershipAdministrator,
			IsActive:       true,
			ApprovedBy:     user,
			JoinedAt:       &joined,
			CreatedAt:      j.now,
		}
		if err := j.tx.Memberships().Create(ctx, &m); err != nil {
			return persistence("create membership", err)
		}
		if err := j.log(ctx, LogEntry{
			Action:             ActionGroupCreated,
			SourceOrganization: creator,
			GroupID:            group.ID,
			User:               user,
			Details: map[string]any{
				"group_name":        group.Name,
				"group_type":        string(group.Type),
				"trust_level":       level.Name,
				"is_public":         group.IsPublic,
				"requires_approval": group.RequiresApproval,
			},
		}); err != nil {
			return err
		}
		j.emit(EventGroupCreated, groupPayload(group, creator))
		return nil
	})
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// groupLevel resolves the tier for a new group. Unknown tiers fall back to the
// configured fallback tier, then to the lowest active tier, creating the
// fallback tier when the catalog is empty. Strict mode refuses instead.
func (g *GroupService) groupLevel(ctx context.Context, j *journal, actor Actor, name string) (TrustLevel, error) {
	levels := j.tx.Levels()
	level, found, err := levels.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return TrustLevel{}, persistence("get trust level", err)
	}
	if found && level.IsActive {
		return level, nil
	}
	if g.strict {
		return TrustLevel{}, newError(KindInvalidTrustLevel, "trust level %q is not available", name)
	}

	fallback, found, err := levels.GetByName(ctx, g.fallbackLevel)
	if err != nil {
		return TrustLevel{}, persistence("get trust level", err)
	}
	if !found || !fallback.IsActive {
		active, err := levels.ListActive(ctx)
		if err != nil {
			return TrustLevel{}, persistence("list trust levels", err)
		}
		if len(active) > 0 {
			fallback = active[0]
		} else {
			fallback = DefaultLevels()[0]
			fallback.ID = ids.New()
			fallback.Name = g.fallbackLevel
			fallback.CreatedBy = SystemActor.UserID()
			fallback.CreatedAt = j.now
			fallback.UpdatedAt = j.now
			if err := levels.Create(ctx, &fallback); err != nil {
				return TrustLevel{}, persistence("create fallback trust level", err)
			}
			if err := j.log(ctx, LogEntry{
				Action:             ActionTrustLevelCreated,
				SourceOrganization: actor.OrganizationID(),
				User:               SystemActor.UserID(),
				Details:            map[string]any{"trust_level": fallback.Name, "fallback": true},
			}); err != nil {
				return TrustLevel{}, err
			}
		}
	}
	g.logger.Warn("unknown group trust level, using fallback",
		zap.String("requested", name),
		zap.String("fallback", fallback.Name),
	)
	return fallback, nil
}

// JoinTrustGroup adds org to the group. Groups that require approval create a
// pending membership unless an administrator of the group enrolls the
// organization. Joining directly as administrator requires such an actor.
func (g *GroupService) JoinTrustGroup(ctx context.Context, groupID, org string, actor Actor, membershipType MembershipType) (Membership, error) {
	if membershipType == "" {
		membershipType = MembershipMember
	}
	if membershipType != MembershipMember && membershipType != MembershipAdministrator {
		return Membership{}, newError(KindInvalidInput, "cannot join with membership type %q", membershipType)
	}
	var m Membership
	err := g.mutate(ctx, func(j *journal) error {
		group, err := g.lockGroup(ctx, j, groupID)
		if err != nil {
			return err
		}
		byAdmin := isPlatformAdmin(actor) || (actor != nil && group.IsAdministrator(actor.OrganizationID()) && canActFor(actor, actor.OrganizationID()))
		if !byAdmin && !canActFor(actor, org) {
			return newError(KindInsufficientPermission, "actor may not enroll organization %s", org)
		}
		if membershipType == MembershipAdministrator && !byAdmin {
			return newError(KindInsufficientPermission, "only group administrators can add administrators")
		}
		if _, exists, err := j.tx.Memberships().FindCurrentForUpdate(ctx, group.ID, org); err != nil {
			return persistence("find membership", err)
		} else if exists {
			return newError(KindAlreadyMember, "organization %s already belongs to group %s", org, group.Name)
		}

		user := userOf(actor)
		m = Membership{
			ID:             ids.New(),
			GroupID:        group.ID,
			OrganizationID: org,
			CreatedAt:      j.now,
		}
		if actor != nil && actor.OrganizationID() != org {
			m.InvitedBy = actor.OrganizationID()
		}
		pending := group.RequiresApproval && !byAdmin
		if pending {
			m.Type = MembershipPending
		} else {
			joined := j.now
			m.Type = membershipType
			m.IsActive = true
			m.JoinedAt = &joined
			m.ApprovedBy = user
		}
		if err := j.tx.Memberships().Create(ctx, &m); err != nil {
			if isConflict(err) {
				return newError(KindAlreadyMember, "organization %s already belongs to group %s", org, group.Name)
			}
			return persistence("create membership", err)
		}
		if m.Type == MembershipAdministrator {
			group.addAdministrator(org)
			group.UpdatedAt = j.now
			if err := j.tx.Groups().Update(ctx, &group); err != nil {
				return persistence("update group", err)
			}
		}
		if err := j.log(ctx, LogEntry{
			Action:             ActionGroupJoined,
			SourceOrganization: org,
			GroupID:            group.ID,
			User:               user,
			Details: map[string]any{
				"membership_type": string(m.Type),
				"pending":         pending,
			},
		}); err != nil {
			return err
		}
		payload := membershipPayload(group, m)
		payload["pending"] = pending
		j.emit(EventMembershipJoined, payload)
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// LeaveTrustGroup ends org's membership, or withdraws its pending request. The
// last administrator cannot leave.
func (g *GroupService) LeaveTrustGroup(ctx context.Context, groupID, org string, actor Actor) (bool, error) {
	if err := requireActFor(actor, org); err != nil {
		return false, err
	}
	err := g.mutate(ctx, func(j *journal) error {
		group, err := g.lockGroup(ctx, j, groupID)
		if err != nil {
			return err
		}
		m, found, err := j.tx.Memberships().FindCurrentForUpdate(ctx, group.ID, org)
		if err != nil {
			return persistence("find membership", err)
		}
		if !found {
			return newError(KindNotAMember, "organization %s is not a member of group %s", org, group.Name)
		}
		wasAdmin := group.IsAdministrator(org)
		if wasAdmin && len(group.Administrators) == 1 {
			return newError(KindInsufficientPermission, "the last administrator of group %s cannot leave", group.Name)
		}
		left := j.now
		m.IsActive = false
		m.LeftAt = &left
		if err := j.tx.Memberships().Update(ctx, &m); err != nil {
			return persistence("update membership", err)
		}
		if wasAdmin {
			group.removeAdministrator(org)
			group.UpdatedAt = j.now
			if err := j.tx.Groups().Update(ctx, &group); err != nil {
				return persistence("update group", err)
			}
		}
		if err := j.log(ctx, LogEntry{
			Action:             ActionGroupLeft,
			SourceOrganization: org,
			GroupID:            group.ID,
			User:               userOf(actor),
			Details:            map[string]any{"membership_type": string(m.Type)},
		}); err != nil {
			return err
		}
		j.emit(EventMembershipLeft, membershipPayload(group, m))
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// PromoteMember changes an active member's type. The promoting organization must
// administer the group.
func (g *GroupService) PromoteMember(ctx context.Context, groupID, org, promotingOrg string, actor Actor, newType MembershipType) (Membership, error) {
	if err := requireActFor(actor, promotingOrg); err != nil {
		return Membership{}, err
	}
	if newType != MembershipMember && newType != MembershipAdministrator {
		return Membership{}, newError(KindInvalidInput, "cannot promote to membership type %q", newType)
	}
	var m Membership
	err := g.mutate(ctx, func(j *journal) error {
		group, err := g.lockGroup(ctx, j, groupID)
		if err != nil {
			return err
		}
		if !group.IsAdministrator(promotingOrg) {
			return newError(KindInsufficientPermission, "organization %s does not administer group %s", promotingOrg, group.Name)
		}
		var found bool
		m, found, err = j.tx.Memberships().FindCurrentForUpdate(ctx, group.ID, org)
		if err != nil {
			return persistence("find membership", err)
		}
		if !found || !m.IsActive {
			return newError(KindNotAMember, "organization %s is not an active member of group %s", org, group.Name)
		}
		if newType == MembershipMember && group.IsAdministrator(org) && len(group.Administrators) == 1 {
			return newError(KindInsufficientPermission, "the last administrator of group %s cannot be demoted", group.Name)
		}
		old := m.Type
		m.Type = newType
		if err := j.tx.Memberships().Update(ctx, &m); err != nil {
			return persistence("update membership", err)
		}
		if newType == MembershipAdministrator {
			group.addAdministrator(org)
		} else {
			group.removeAdministrator(org)
		}
		group.UpdatedAt = j.now
		if err := j.tx.Groups().Update(ctx, &group); err != nil {
			return persistence("update group", err)
		}
		if err := j.log(ctx, LogEntry{
			Action:             ActionMemberPromoted,
			SourceOrganization: promotingOrg,
			TargetOrganization: org,
			GroupID:            group.ID,
			User:               userOf(actor),
			Details: map[string]any{
				"old_membership_type": string(old),
				"new_membership_type": string(newType),
			},
		}); err != nil {
			return err
		}
		payload := membershipPayload(group, m)
		payload["promoted_by"] = promotingOrg
		j.emit(EventMembershipPromoted, payload)
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// ApproveMembership activates a pending membership request.
func (g *GroupService) ApproveMembership(ctx context.Context, groupID, org, approvingOrg string, actor Actor) (Membership, error) {
	return g.decideMembership(ctx, groupID, org, approvingOrg, actor, true)
}

// RejectMembership declines a pending membership request.
func (g *GroupService) RejectMembership(ctx context.Context, groupID, org, approvingOrg string, actor Actor) (Membership, error) {
	return g.decideMembership(ctx, groupID, org, approvingOrg, actor, false)
}

func (g *GroupService) decideMembership(ctx context.Context, groupID, org, approvingOrg string, actor Actor, approve bool) (Membership, error) {
	if err := requireActFor(actor, approvingOrg); err != nil {
		return Membership{}, err
	}
	var m Membership
	err := g.mutate(ctx, func(j *journal) error {
		group, err := g.lockGroup(ctx, j, groupID)
		if err != nil {
			return err
		}
		if !group.IsAdministrator(approvingOrg) {
			return newError(KindInsufficientPermission, "organization %s does not administer group %s", approvingOrg, group.Name)
		}
		var found bool
		m, found, err = j.tx.Memberships().FindCurrentForUpdate(ctx, group.ID, org)
		if err != nil {
			return persistence("find membership", err)
		}
		if !found {
			return newError(KindNotAMember, "organization %s has no membership in group %s", org, group.Name)
		}
		if m.Type != MembershipPending {
			return newError(KindInvalidState, "membership of %s in group %s is not pending", org, group.Name)
		}
		action := ActionMembershipRejected
		if approve {
			joined := j.now
			m.Type = MembershipMember
			m.IsActive = true
			m.JoinedAt = &joined
			m.ApprovedBy = userOf(actor)
			action = ActionMembershipApproved
		} else {
			m.Type = MembershipRejected
		}
		if err := j.tx.Memberships().Update(ctx, &m); err != nil {
			return persistence("update membership", err)
		}
		if err := j.log(ctx, LogEntry{
			Action:             action,
			SourceOrganization: approvingOrg,
			TargetOrganization: org,
			GroupID:            group.ID,
			User:               userOf(actor),
		}); err != nil {
			return err
		}
		if approve {
			j.emit(EventMembershipApproved, membershipPayload(group, m))
		}
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// DeactivateGroup soft-deletes a group. Community trust through it stops at once.
func (g *GroupService) DeactivateGroup(ctx context.Context, groupID, actingOrg string, actor Actor) error {
	if err := requireActFor(actor, actingOrg); err != nil {
		return err
	}
	return g.mutate(ctx, func(j *journal) error {
		group, err := g.lockGroup(ctx, j, groupID)
		if err != nil {
			return err
		}
		if !group.IsAdministrator(actingOrg) && !isPlatformAdmin(actor) {
			return newError(KindInsufficientPermission, "organization %s does not administer group %s", actingOrg, group.Name)
		}
		group.IsActive = false
		group.UpdatedAt = j.now
		if err := j.tx.Groups().Update(ctx, &group); err != nil {
			return persistence("update group", err)
		}
		return j.log(ctx, LogEntry{
			Action:             ActionGroupDeactivated,
			SourceOrganization: actingOrg,
			GroupID:            group.ID,
			User:               userOf(actor),
			Details:            map[string]any{"group_name": group.Name},
		})
	})
}

// GetGroup fetches one group by id.
func (g *GroupService) GetGroup(ctx context.Context, groupID string) (Group, error) {
	group, err := g.store.Groups().Get(ctx, groupID)
	if err != nil {
		if isNotFound(err) {
			return Group{}, newError(KindGroupNotFound, "group %s not found", groupID)
		}
		return Group{}, persistence("get group", err)
	}
	return group, nil
}

// ListPublicGroups lists active public groups.
func (g *GroupService) ListPublicGroups(ctx context.Context) ([]Group, error) {
	groups, err := g.store.Groups().ListPublic(ctx)
	if err != nil {
		return nil, persistence("list groups", err)
	}
	return groups, nil
}

// Members lists the active memberships of a group.
func (g *GroupService) Members(ctx context.Context, groupID string) ([]Membership, error) {
	if _, err := g.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := g.store.Memberships().ListActiveByGroup(ctx, groupID)
	if err != nil {
		return nil, persistence("list members", err)
	}
	return members, nil
}

// lockGroup loads an active group for update.
func (g *GroupService) lockGroup(ctx context.Context, j *journal, groupID string) (Group, error) {
	group, err := j.tx.Groups().GetForUpdate(ctx, groupID)
	if err != nil {
		if isNotFound(err) {
			return Group{}, newError(KindGroupNotFound, "group %s not found", groupID)
		}
		return Group{}, persistence("lock group", err)
	}
	if !group.IsActive {
		return Group{}, newError(KindGroupNotFound, "group %s is inactive", groupID)
	}
	return group, nil
}

func groupPayload(group Group, org string) map[string]any {
	return map[string]any{
		"group_id":     group.ID,
		"group_name":   group.Name,
		"organization": org,
		"trust_level":  group.DefaultTrustLevel.Name,
	}
}

func membershipPayload(group Group, m Membership) map[string]any {
	payload := groupPayload(group, m.OrganizationID)
	payload["membership_id"] = m.ID
	payload["membership_type"] = string(m.Type)
	return payload
}
