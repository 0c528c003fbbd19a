package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tisp.org/internal/trust"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx trust.Repositories) error {
		rel := trust.Relationship{ID: "r1", SourceOrganization: "a", TargetOrganization: "b", Status: trust.StatusPending}
		require.NoError(t, tx.Relationships().Create(ctx, &rel))
		require.NoError(t, tx.Logs().Append(ctx, &trust.LogEntry{ID: "l1", Action: trust.ActionRelationshipCreated}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Relationships().Get(ctx, "r1")
	require.ErrorIs(t, err, trust.ErrNotFound)
	entries, err := s.Logs().List(ctx, trust.LogFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestActivePairIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := trust.Relationship{ID: "r1", SourceOrganization: "a", TargetOrganization: "b", Status: trust.StatusActive}
	require.NoError(t, s.Relationships().Create(ctx, &first))

	second := trust.Relationship{ID: "r2", SourceOrganization: "a", TargetOrganization: "b", Status: trust.StatusPending}
	require.NoError(t, s.Relationships().Create(ctx, &second))

	second.Status = trust.StatusActive
	require.ErrorIs(t, s.Relationships().Update(ctx, &second), trust.ErrConflict)

	// The reverse direction is a different pair.
	reverse := trust.Relationship{ID: "r3", SourceOrganization: "b", TargetOrganization: "a", Status: trust.StatusActive}
	require.NoError(t, s.Relationships().Create(ctx, &reverse))
}

func TestCurrentMembershipIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	m1 := trust.Membership{ID: "m1", GroupID: "g", OrganizationID: "a", Type: trust.MembershipPending}
	require.NoError(t, s.Memberships().Create(ctx, &m1))
	m2 := trust.Membership{ID: "m2", GroupID: "g", OrganizationID: "a", Type: trust.MembershipMember, IsActive: true}
	require.ErrorIs(t, s.Memberships().Create(ctx, &m2), trust.ErrConflict)

	left := time.Now()
	m1.LeftAt = &left
	require.NoError(t, s.Memberships().Update(ctx, &m1))
	require.NoError(t, s.Memberships().Create(ctx, &m2))

	current, ok, err := s.Memberships().FindCurrent(ctx, "g", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m2", current.ID)
}

func TestLevelsOrderedAndCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Seed(ctx, trust.DefaultLevels()...))

	active, err := s.Levels().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 5)
	for i := 1; i < len(active); i++ {
		require.Less(t, active[i-1].NumericalValue, active[i].NumericalValue)
	}

	l, ok, err := s.Levels().GetByName(ctx, "mEdIuM")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 50, l.NumericalValue)

	dup := trust.TrustLevel{ID: "other", Name: "MEDIUM"}
	require.ErrorIs(t, s.Levels().Create(ctx, &dup), trust.ErrConflict)
}

func TestGroupAdministratorsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	g := trust.Group{ID: "g1", Name: "Finance ISAC", Administrators: []string{"a"}, IsActive: true, IsPublic: true}
	require.NoError(t, s.Groups().Create(ctx, &g))
	g.Administrators[0] = "mutated"

	stored, err := s.Groups().Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, stored.Administrators)

	dup := trust.Group{ID: "g2", Name: "finance isac"}
	require.ErrorIs(t, s.Groups().Create(ctx, &dup), trust.ErrConflict)
}

func TestLogsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"l1", "l2", "l3"} {
		e := trust.LogEntry{ID: id, Action: trust.ActionGroupJoined, SourceOrganization: "a", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.Logs().Append(ctx, &e))
	}
	entries, err := s.Logs().List(ctx, trust.LogFilter{Organization: "a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "l3", entries[0].ID)
	require.Equal(t, "l2", entries[1].ID)
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(tx trust.Repositories) error {
				entries, err := tx.Logs().List(ctx, trust.LogFilter{})
				if err != nil {
					return err
				}
				e := trust.LogEntry{ID: string(rune('A' + len(entries)))}
				return tx.Logs().Append(ctx, &e)
			})
		}()
	}
	wg.Wait()
	entries, err := s.Logs().List(ctx, trust.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 50)
}
