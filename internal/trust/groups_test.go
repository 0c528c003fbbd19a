package trust_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tisp.org/internal/trust"
	"tisp.org/internal/trust/memstore"
)

func TestCreateTrustGroup(t *testing.T) {
	f := newFixture(t)

	_, err := f.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{Name: "  ", CreatorOrganization: "org-a"})
	require.ErrorIs(t, err, trust.ErrEmptyGroupName)

	g, err := f.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Water Utilities", CreatorOrganization: "org-a", DefaultTrustLevel: "High", IsPublic: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"org-a"}, g.Administrators)
	require.Equal(t, trust.GroupCommunity, g.Type)
	require.Equal(t, "High", g.DefaultTrustLevel.Name)

	members, err := f.groups.Members(f.ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, trust.MembershipAdministrator, members[0].Type)

	_, err = f.groups.CreateTrustGroup(f.ctx, admin("org-b"), trust.CreateGroupInput{Name: "water utilities", CreatorOrganization: "org-b"})
	require.ErrorIs(t, err, trust.ErrGroupNameTaken)

	public, err := f.groups.ListPublicGroups(f.ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	require.Contains(t, f.events.types(), trust.EventGroupCreated)
}

func TestCreateTrustGroupLevelFallback(t *testing.T) {
	f := newFixture(t)
	g, err := f.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Fallback", CreatorOrganization: "org-a", DefaultTrustLevel: "Platinum",
	})
	require.NoError(t, err)
	require.Equal(t, "Public", g.DefaultTrustLevel.Name)

	strict := newFixtureWithStore(t, f.store, trust.WithStrictLevels(true))
	_, err = strict.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Strict", CreatorOrganization: "org-a", DefaultTrustLevel: "Platinum",
	})
	require.ErrorIs(t, err, trust.ErrInvalidTrustLevel)

	empty := newFixtureWithStore(t, memstore.New())
	g, err = empty.groups.CreateTrustGroup(empty.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Bootstrap", CreatorOrganization: "org-a",
	})
	require.NoError(t, err)
	require.Equal(t, "public", g.DefaultTrustLevel.Name)
	levels, err := empty.svc.Levels().ActiveLevelsOrdered(empty.ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
}

func TestJoinRequiresApproval(t *testing.T) {
	f := newFixture(t)
	g, err := f.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Closed", CreatorOrganization: "org-a", DefaultTrustLevel: "Medium", RequiresApproval: true,
	})
	require.NoError(t, err)

	m, err := f.groups.JoinTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"), trust.MembershipMember)
	require.NoError(t, err)
	require.Equal(t, trust.MembershipPending, m.Type)
	require.False(t, m.IsActive)

	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"), trust.MembershipMember)
	require.ErrorIs(t, err, trust.ErrAlreadyMember)

	_, found, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.False(t, found, "pending members get no community trust")

	_, err = f.groups.ApproveMembership(f.ctx, g.ID, "org-b", "org-b", admin("org-b"))
	require.ErrorIs(t, err, trust.ErrInsufficientPermission)

	m, err = f.groups.ApproveMembership(f.ctx, g.ID, "org-b", "org-a", admin("org-a"))
	require.NoError(t, err)
	require.True(t, m.IsActive)
	require.Equal(t, trust.MembershipMember, m.Type)

	_, found, err = f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.True(t, found)

	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-c", admin("org-c"), trust.MembershipMember)
	require.NoError(t, err)
	m, err = f.groups.RejectMembership(f.ctx, g.ID, "org-c", "org-a", admin("org-a"))
	require.NoError(t, err)
	require.Equal(t, trust.MembershipRejected, m.Type)

	// A rejected request does not block a fresh one.
	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-c", admin("org-c"), trust.MembershipMember)
	require.NoError(t, err)
}

func TestAdministratorEnrollmentSkipsApproval(t *testing.T) {
	f := newFixture(t)
	g, err := f.groups.CreateTrustGroup(f.ctx, admin("org-a"), trust.CreateGroupInput{
		Name: "Closed", CreatorOrganization: "org-a", RequiresApproval: true, DefaultTrustLevel: "Low",
	})
	require.NoError(t, err)

	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"), trust.MembershipAdministrator)
	require.ErrorIs(t, err, trust.ErrInsufficientPermission)

	m, err := f.groups.JoinTrustGroup(f.ctx, g.ID, "org-b", admin("org-a"), trust.MembershipAdministrator)
	require.NoError(t, err)
	require.True(t, m.IsActive)
	require.Equal(t, "org-a", m.InvitedBy)

	stored, err := f.groups.GetGroup(f.ctx, g.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"org-a", "org-b"}, stored.Administrators)
}

func TestLeaveTrustGroup(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "Transport", "Medium", "org-a", "org-b")

	_, err := f.groups.LeaveTrustGroup(f.ctx, g.ID, "org-a", admin("org-a"))
	require.ErrorIs(t, err, trust.ErrInsufficientPermission)

	ok, err := f.groups.LeaveTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.groups.LeaveTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"))
	require.ErrorIs(t, err, trust.ErrNotAMember)

	_, found, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.False(t, found)

	entries, err := f.svc.AuditTrail(f.ctx, trust.LogFilter{GroupID: g.ID, Action: trust.ActionGroupLeft})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Leaving and rejoining is allowed.
	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-b", admin("org-b"), trust.MembershipMember)
	require.NoError(t, err)
}

func TestPromoteMember(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "Telecom", "Medium", "org-a", "org-b", "org-c")

	_, err := f.groups.PromoteMember(f.ctx, g.ID, "org-c", "org-b", admin("org-b"), trust.MembershipAdministrator)
	require.ErrorIs(t, err, trust.ErrInsufficientPermission)

	_, err = f.groups.PromoteMember(f.ctx, g.ID, "org-a", "org-a", admin("org-a"), trust.MembershipMember)
	require.ErrorIs(t, err, trust.ErrInsufficientPermission, "last administrator cannot be demoted")

	m, err := f.groups.PromoteMember(f.ctx, g.ID, "org-b", "org-a", admin("org-a"), trust.MembershipAdministrator)
	require.NoError(t, err)
	require.Equal(t, trust.MembershipAdministrator, m.Type)

	stored, err := f.groups.GetGroup(f.ctx, g.ID)
	require.NoError(t, err)
	require.True(t, stored.IsAdministrator("org-b"))

	// With a second administrator the creator may leave.
	_, err = f.groups.LeaveTrustGroup(f.ctx, g.ID, "org-a", admin("org-a"))
	require.NoError(t, err)
	stored, err = f.groups.GetGroup(f.ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"org-b"}, stored.Administrators)

	_, err = f.groups.PromoteMember(f.ctx, g.ID, "org-z", "org-b", admin("org-b"), trust.MembershipAdministrator)
	require.ErrorIs(t, err, trust.ErrNotAMember)

	require.Contains(t, f.events.types(), trust.EventMembershipPromoted)
}

func TestDeactivateGroupStopsCommunityTrust(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "Retail", "Medium", "org-a", "org-b")

	require.ErrorIs(t, f.groups.DeactivateGroup(f.ctx, g.ID, "org-b", admin("org-b")), trust.ErrInsufficientPermission)
	require.NoError(t, f.groups.DeactivateGroup(f.ctx, g.ID, "org-a", admin("org-a")))

	_, found, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.False(t, found)

	_, err = f.groups.JoinTrustGroup(f.ctx, g.ID, "org-c", admin("org-c"), trust.MembershipMember)
	require.ErrorIs(t, err, trust.ErrGroupNotFound)

	public, err := f.groups.ListPublicGroups(f.ctx)
	require.NoError(t, err)
	require.Empty(t, public)
}

func TestJoinUnknownGroup(t *testing.T) {
	f := newFixture(t)
	_, err := f.groups.JoinTrustGroup(f.ctx, "nope", "org-a", admin("org-a"), trust.MembershipMember)
	require.ErrorIs(t, err, trust.ErrGroupNotFound)
	_, err = f.groups.Members(f.ctx, "nope")
	require.ErrorIs(t, err, trust.ErrGroupNotFound)
}
