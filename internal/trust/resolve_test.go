package trust_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tisp.org/internal/trust"
	"tisp.org/internal/trust/memstore"
)

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	rel := f.relate(t, "org-a", "org-b", "Medium", false, false)

	_, found, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.False(t, found, "pending relationships grant nothing")

	_, err = f.svc.ApproveRelationship(f.ctx, rel.ID, "org-a", admin("org-a"))
	require.NoError(t, err)
	_, err = f.svc.ApproveRelationship(f.ctx, rel.ID, "org-b", admin("org-b"))
	require.NoError(t, err)

	res, found, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Medium", res.Level.Name)
	link, ok := res.Link.(trust.DirectLink)
	require.True(t, ok)
	require.Equal(t, rel.ID, link.Relationship.ID)
	require.False(t, link.Reverse)

	_, err = f.svc.RevokeRelationship(f.ctx, rel.ID, "org-a", admin("org-a"), "done")
	require.NoError(t, err)
	_, found, err = f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.False(t, found)
}

func TestNoImplicitReverseTrust(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-a", "org-b", "High", false, true)

	_, found, err := f.svc.CheckTrustLevel(f.ctx, "org-b", "org-a")
	require.NoError(t, err)
	require.False(t, found)

	f.relate(t, "org-c", "org-d", "High", true, true)
	res, found, err := f.svc.CheckTrustLevel(f.ctx, "org-d", "org-c")
	require.NoError(t, err)
	require.True(t, found)
	link := res.Link.(trust.DirectLink)
	require.True(t, link.Reverse)
	require.Equal(t, "org-c", link.Relationship.SourceOrganization)
}

func TestCommunityInference(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "Energy ISAC", "Medium", "org-c", "org-d")

	before := f.logCount(t)
	first, found, err := f.svc.CheckTrustLevel(f.ctx, "org-c", "org-d")
	require.NoError(t, err)
	require.True(t, found)
	second, _, err := f.svc.CheckTrustLevel(f.ctx, "org-c", "org-d")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, before, f.logCount(t))

	link, ok := first.Link.(trust.CommunityLink)
	require.True(t, ok)
	require.Equal(t, g.ID, link.GroupID)
	require.Equal(t, "Medium", first.Level.Name)
	require.Equal(t, trust.LinkCommunity, first.Link.Kind())

	rels, err := f.svc.ListRelationships(f.ctx, "org-c")
	require.NoError(t, err)
	require.Empty(t, rels, "community trust is never persisted")
}

func TestCommunityPrefersHighestGroup(t *testing.T) {
	f := newFixture(t)
	f.group(t, "Regional", "Low", "org-c", "org-d")
	f.group(t, "Sector", "High", "org-d", "org-c")

	res, found, err := f.svc.CheckTrustLevel(f.ctx, "org-c", "org-d")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "High", res.Level.Name)
}

func TestDirectTrustWinsOverCommunity(t *testing.T) {
	f := newFixture(t)
	f.group(t, "Sector", "High", "org-a", "org-b")
	f.relate(t, "org-a", "org-b", "Low", false, true)

	res, _, err := f.svc.CheckTrustLevel(f.ctx, "org-a", "org-b")
	require.NoError(t, err)
	require.Equal(t, trust.LinkDirect, res.Link.Kind())
	require.Equal(t, "Low", res.Level.Name)
}

func TestCanAccessIntelligence(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-a", "org-b", "Low", false, true)
	f.relate(t, "org-a", "org-c", "Complete", false, true)

	d, err := f.svc.CanAccessIntelligence(f.ctx, "org-a", "org-a", trust.AccessFull)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "own organization", d.Reason)

	d, err = f.svc.CanAccessIntelligence(f.ctx, "org-b", "org-a", trust.AccessContribute)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reason, "contribute")
	require.Contains(t, d.Reason, "read")

	d, err = f.svc.CanAccessIntelligence(f.ctx, "org-b", "org-a", trust.AccessRead)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = f.svc.CanAccessIntelligence(f.ctx, "org-c", "org-a", trust.AccessRead)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NotNil(t, d.Link)

	d, err = f.svc.CanAccessIntelligence(f.ctx, "org-z", "org-a", trust.AccessRead)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "no trust relationship exists", d.Reason)
	require.Nil(t, d.Link)

	_, err = f.svc.CanAccessIntelligence(f.ctx, "org-b", "org-a", trust.AccessLevel("root"))
	require.ErrorIs(t, err, trust.ErrInvalidInput)
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	until := f.clock.Now().Add(time.Hour)
	rel, err := f.svc.CreateRelationship(f.ctx, admin("org-a"), trust.CreateRelationshipInput{
		SourceOrganization: "org-a", TargetOrganization: "org-b", TrustLevel: "Complete", ValidUntil: &until,
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveRelationship(f.ctx, rel.ID, "org-a", admin("org-a"))
	require.NoError(t, err)
	_, err = f.svc.ApproveRelationship(f.ctx, rel.ID, "org-b", admin("org-b"))
	require.NoError(t, err)

	d, err := f.svc.CanAccessIntelligence(f.ctx, "org-b", "org-a", trust.AccessFull)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	f.clock.Advance(2 * time.Hour)
	d, err = f.svc.CanAccessIntelligence(f.ctx, "org-b", "org-a", trust.AccessRead)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	stored, err := f.svc.GetRelationship(f.ctx, rel.ID)
	require.NoError(t, err)
	require.Equal(t, trust.StatusActive, stored.Status, "expiry is lazy")
}

func TestSharingOrganizationsScenario(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-a", "org-b", "Medium", false, true)
	f.group(t, "Health ISAC", "Medium", "org-a", "org-c", "org-d")

	partners, err := f.svc.SharingOrganizations(f.ctx, "org-a", "low")
	require.NoError(t, err)
	require.Len(t, partners, 3)

	byOrg := map[string]trust.SharingPartner{}
	for _, p := range partners {
		_, dup := byOrg[p.OrganizationID]
		require.False(t, dup, "duplicate partner %s", p.OrganizationID)
		byOrg[p.OrganizationID] = p
	}
	require.Equal(t, trust.LinkDirect, byOrg["org-b"].Link.Kind())
	require.Equal(t, trust.LinkCommunity, byOrg["org-c"].Link.Kind())
	require.Equal(t, trust.LinkCommunity, byOrg["org-d"].Link.Kind())
	for _, p := range partners {
		require.Equal(t, "Medium", p.Level.Name)
	}
	require.Equal(t, "org-b", partners[0].OrganizationID, "direct partners come first")

	partners, err = f.svc.SharingOrganizations(f.ctx, "org-a", "High")
	require.NoError(t, err)
	require.Empty(t, partners)
}

func TestSharingIncludesReverseBilateral(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-x", "org-a", "High", true, true)
	f.relate(t, "org-y", "org-a", "High", false, true)

	partners, err := f.svc.SharingOrganizations(f.ctx, "org-a", "Low")
	require.NoError(t, err)
	require.Len(t, partners, 1)
	require.Equal(t, "org-x", partners[0].OrganizationID)
	require.True(t, partners[0].Link.(trust.DirectLink).Reverse)
}

func TestSharingKeepsCrossChannelDuplicates(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-a", "org-b", "Complete", false, true)
	f.group(t, "Finance", "Medium", "org-a", "org-b")

	partners, err := f.svc.SharingOrganizations(f.ctx, "org-a", "Low")
	require.NoError(t, err)
	require.Len(t, partners, 2)

	unique := trust.UniqueRecipients(partners)
	require.Len(t, unique, 1)
	require.Equal(t, "Complete", unique[0].Level.Name)
}

func TestSharingFloorFallback(t *testing.T) {
	f := newFixture(t)
	f.relate(t, "org-a", "org-b", "Low", false, true)

	partners, err := f.svc.SharingOrganizations(f.ctx, "org-a", "unheard-of")
	require.NoError(t, err)
	require.Len(t, partners, 1)

	strict := newFixtureWithStore(t, f.store, trust.WithStrictLevels(true))
	_, err = strict.svc.SharingOrganizations(f.ctx, "org-a", "unheard-of")
	require.ErrorIs(t, err, trust.ErrInvalidTrustLevel)
}

func TestSharingFloorWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, trust.WithLogger(zap.New(core)))

	_, err := f.svc.SharingOrganizations(f.ctx, "org-a", "unheard-of")
	require.NoError(t, err)
	unknown := logs.FilterMessage("unknown minimum trust level, using lowest active tier").All()
	require.Len(t, unknown, 1)
	require.Equal(t, "Public", unknown[0].ContextMap()["fallback"])

	core, logs = observer.New(zapcore.WarnLevel)
	empty := newFixtureWithStore(t, memstore.New(), trust.WithLogger(zap.New(core)))
	partners, err := empty.svc.SharingOrganizations(empty.ctx, "org-a", "unheard-of")
	require.NoError(t, err)
	require.Empty(t, partners)
	require.Equal(t, 1, logs.FilterMessage("no active trust levels, sharing without a floor").Len())
	require.Zero(t, logs.FilterMessage("unknown minimum trust level, using lowest active tier").Len())
}

func TestRegistryMinimum(t *testing.T) {
	f := newFixture(t)
	reg := f.svc.Levels()

	v, ok, err := reg.Minimum(f.ctx, "MEDIUM")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 50, v)

	v, ok, err = reg.Minimum(f.ctx, "public")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10, v)

	_, ok, err = reg.Minimum(f.ctx, "")
	require.NoError(t, err)
	require.False(t, ok)

	levels, err := reg.ActiveLevelsOrdered(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "Public", levels[0].Name)
	require.Equal(t, "Complete", levels[len(levels)-1].Name)
}
