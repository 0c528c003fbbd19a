package trust_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tisp.org/internal/trust"
	"tisp.org/internal/trust/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type event struct {
	Type    string
	Payload map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Notify(_ context.Context, eventType string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Type: eventType, Payload: payload})
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  *memstore.Store
	svc    *trust.Service
	groups *trust.GroupService
	clock  *fakeClock
	events *recorder
}

func newFixture(t *testing.T, opts ...trust.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Seed(ctx, trust.DefaultLevels()...))
	return newFixtureWithStore(t, store, opts...)
}

func newFixtureWithStore(t *testing.T, store *memstore.Store, opts ...trust.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  store,
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events: &recorder{},
	}
	all := append([]trust.Option{trust.WithClock(f.clock.Now), trust.WithNotifier(f.events)}, opts...)
	var err error
	f.svc, err = trust.NewService(store, all...)
	require.NoError(t, err)
	f.groups, err = trust.NewGroupService(store, all...)
	require.NoError(t, err)
	return f
}

func admin(org string) trust.Actor {
	return trust.Principal{User: "user-" + org, Organization: org, RoleName: trust.RoleOrgAdmin}
}

func viewer(org string) trust.Actor {
	return trust.Principal{User: "viewer-" + org, Organization: org, RoleName: trust.RoleViewer}
}

var platform = trust.Principal{User: "root", Organization: "platform", RoleName: trust.RolePlatformAdmin}

// relate creates source→target at level and optionally approves both sides.
func (f *fixture) relate(t *testing.T, source, target, level string, bilateral, approve bool) trust.Relationship {
	t.Helper()
	rel, err := f.svc.CreateRelationship(f.ctx, admin(source), trust.CreateRelationshipInput{
		SourceOrganization: source,
		TargetOrganization: target,
		TrustLevel:         level,
		IsBilateral:        bilateral,
	})
	require.NoError(t, err)
	if approve {
		activated, err := f.svc.ApproveRelationship(f.ctx, rel.ID, source, admin(source))
		require.NoError(t, err)
		require.False(t, activated)
		activated, err = f.svc.ApproveRelationship(f.ctx, rel.ID, target, admin(target))
		require.NoError(t, err)
		require.True(t, activated)
	}
	return rel
}

// group creates a public group without approval whose members are creator plus others.
func (f *fixture) group(t *testing.T, name, level, creator string, others ...string) trust.Group {
	t.Helper()
	g, err := f.groups.CreateTrustGroup(f.ctx, admin(creator), trust.CreateGroupInput{
		Name:                name,
		CreatorOrganization: creator,
		IsPublic:            true,
		DefaultTrustLevel:   level,
	})
	require.NoError(t, err)
	for _, org := range others {
		_, err := f.groups.JoinTrustGroup(f.ctx, g.ID, org, admin(org), trust.MembershipMember)
		require.NoError(t, err)
	}
	return g
}

func (f *fixture) logCount(t *testing.T) int {
	t.Helper()
	entries, err := f.svc.AuditTrail(f.ctx, trust.LogFilter{})
	require.NoError(t, err)
	return len(entries)
}

type failingLogs struct{ trust.LogRepository }

func (failingLogs) Append(context.Context, *trust.LogEntry) error {
	return errors.New("audit volume full")
}

type failingRepos struct{ trust.Repositories }

func (r failingRepos) Logs() trust.LogRepository { return failingLogs{r.Repositories.Logs()} }

// failingStore rejects every log append made inside a transaction.
type failingStore struct{ *memstore.Store }

func (s failingStore) InTx(ctx context.Context, fn func(tx trust.Repositories) error) error {
	return s.Store.InTx(ctx, func(tx trust.Repositories) error {
		return fn(failingRepos{tx})
	})
}
