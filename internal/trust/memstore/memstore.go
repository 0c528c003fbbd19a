// Package memstore is an in-process trust.Store. Transactions are serialized and
// work on a private copy of the state that replaces the committed state only
// when the transaction function succeeds.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tisp.org/internal/trust"
)

// Store implements trust.Store in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
}

var _ trust.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// Seed inserts the given levels, assigning ids where missing.
func (s *Store) Seed(ctx context.Context, levels ...trust.TrustLevel) error {
	return s.InTx(ctx, func(tx trust.Repositories) error {
		for i := range levels {
			l := levels[i]
			if l.ID == "" {
				l.ID = "lvl-" + strings.ToLower(l.Name)
			}
			if err := tx.Levels().Create(ctx, &l); err != nil {
				return err
			}
		}
		return nil
	})
}

// InTx runs fn against a private copy of the state.
func (s *Store) InTx(ctx context.Context, fn func(tx trust.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	next := s.snapshot().clone()
	if err := fn(repositories{access: direct(next)}); err != nil {
		return err
	}
	s.commit(next)
	return nil
}

func (s *Store) Levels() trust.LevelRepository               { return levels{s.autocommit()} }
func (s *Store) Relationships() trust.RelationshipRepository { return relationships{s.autocommit()} }
func (s *Store) Groups() trust.GroupRepository               { return groups{s.autocommit()} }
func (s *Store) Memberships() trust.MembershipRepository     { return memberships{s.autocommit()} }
func (s *Store) Logs() trust.LogRepository                   { return logs{s.autocommit()} }

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Store) commit(next *state) {
	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
}

// autocommit reads the committed snapshot and wraps each write in its own
// transaction.
func (s *Store) autocommit() access {
	return access{
		read: s.snapshot,
		write: func(fn func(*state) error) error {
			return s.InTx(context.Background(), func(tx trust.Repositories) error {
				return fn(tx.(repositories).read())
			})
		},
	}
}

type access struct {
	read  func() *state
	write func(func(*state) error) error
}

func direct(st *state) access {
	return access{
		read:  func() *state { return st },
		write: func(fn func(*state) error) error { return fn(st) },
	}
}

type repositories struct {
	access
}

func (r repositories) Levels() trust.LevelRepository               { return levels{r.access} }
func (r repositories) Relationships() trust.RelationshipRepository { return relationships{r.access} }
func (r repositories) Groups() trust.GroupRepository               { return groups{r.access} }
func (r repositories) Memberships() trust.MembershipRepository     { return memberships{r.access} }
func (r repositories) Logs() trust.LogRepository                   { return logs{r.access} }

// state is never mutated once committed.
type state struct {
	levels        map[string]trust.TrustLevel
	relationships map[string]trust.Relationship
	relOrder      []string
	groups        map[string]trust.Group
	groupOrder    []string
	memberships   map[string]trust.Membership
	memberOrder   []string
	logs          []trust.LogEntry
}

func newState() *state {
	return &state{
		levels:        map[string]trust.TrustLevel{},
		relationships: map[string]trust.Relationship{},
		groups:        map[string]trust.Group{},
		memberships:   map[string]trust.Membership{},
	}
}

func (st *state) clone() *state {
	next := &state{
		levels:        make(map[string]trust.TrustLevel, len(st.levels)),
		relationships: make(map[string]trust.Relationship, len(st.relationships)),
		relOrder:      append([]string(nil), st.relOrder...),
		groups:        make(map[string]trust.Group, len(st.groups)),
		groupOrder:    append([]string(nil), st.groupOrder...),
		memberships:   make(map[string]trust.Membership, len(st.memberships)),
		memberOrder:   append([]string(nil), st.memberOrder...),
		logs:          append([]trust.LogEntry(nil), st.logs...),
	}
	for k, v := range st.levels {
		next.levels[k] = v
	}
	for k, v := range st.relationships {
		next.relationships[k] = v
	}
	for k, v := range st.groups {
		next.groups[k] = v
	}
	for k, v := range st.memberships {
		next.memberships[k] = v
	}
	return next
}

type levels struct{ access }

func (r levels) Create(_ context.Context, level *trust.TrustLevel) error {
	return r.write(func(st *state) error {
		if _, ok := st.levels[level.ID]; ok {
			return trust.ErrConflict
		}
		for _, l := range st.levels {
			if strings.EqualFold(l.Name, level.Name) {
				return trust.ErrConflict
			}
		}
		st.levels[level.ID] = *level
		return nil
	})
}

func (r levels) Update(_ context.Context, level *trust.TrustLevel) error {
	return r.write(func(st *state) error {
		if _, ok := st.levels[level.ID]; !ok {
			return trust.ErrNotFound
		}
		st.levels[level.ID] = *level
		return nil
	})
}

func (r levels) Get(_ context.Context, id string) (trust.TrustLevel, error) {
	l, ok := r.read().levels[id]
	if !ok {
		return trust.TrustLevel{}, trust.ErrNotFound
	}
	return l, nil
}

func (r levels) GetByName(_ context.Context, name string) (trust.TrustLevel, bool, error) {
	for _, l := range r.read().levels {
		if strings.EqualFold(l.Name, name) {
			return l, true, nil
		}
	}
	return trust.TrustLevel{}, false, nil
}

func (r levels) ListActive(context.Context) ([]trust.TrustLevel, error) {
	var out []trust.TrustLevel
	for _, l := range r.read().levels {
		if l.IsActive {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NumericalValue != out[j].NumericalValue {
			return out[i].NumericalValue < out[j].NumericalValue
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type relationships struct{ access }

func activeClash(st *state, rel trust.Relationship) bool {
	if rel.Status != trust.StatusActive {
		return false
	}
	for id, other := range st.relationships {
		if id != rel.ID && other.Status == trust.StatusActive &&
			other.SourceOrganization == rel.SourceOrganization &&
			other.TargetOrganization == rel.TargetOrganization {
			return true
		}
	}
	return false
}

func (r relationships) Create(_ context.Context, rel *trust.Relationship) error {
	return r.write(func(st *state) error {
		if _, ok := st.relationships[rel.ID]; ok || activeClash(st, *rel) {
			return trust.ErrConflict
		}
		st.relationships[rel.ID] = *rel
		st.relOrder = append(st.relOrder, rel.ID)
		return nil
	})
}

func (r relationships) Update(_ context.Context, rel *trust.Relationship) error {
	return r.write(func(st *state) error {
		if _, ok := st.relationships[rel.ID]; !ok {
			return trust.ErrNotFound
		}
		if activeClash(st, *rel) {
			return trust.ErrConflict
		}
		st.relationships[rel.ID] = *rel
		return nil
	})
}

func (r relationships) Get(_ context.Context, id string) (trust.Relationship, error) {
	rel, ok := r.read().relationships[id]
	if !ok {
		return trust.Relationship{}, trust.ErrNotFound
	}
	return rel, nil
}

// GetForUpdate needs no lock of its own: transactions are already serialized.
func (r relationships) GetForUpdate(ctx context.Context, id string) (trust.Relationship, error) {
	return r.Get(ctx, id)
}

func (r relationships) FindActive(_ context.Context, source, target string) (trust.Relationship, bool, error) {
	for _, rel := range r.ordered() {
		if rel.Status == trust.StatusActive && rel.SourceOrganization == source && rel.TargetOrganization == target {
			return rel, true, nil
		}
	}
	return trust.Relationship{}, false, nil
}

func (r relationships) ListActiveFrom(_ context.Context, source string) ([]trust.Relationship, error) {
	return r.filter(func(rel trust.Relationship) bool {
		return rel.Status == trust.StatusActive && rel.SourceOrganization == source
	}), nil
}

func (r relationships) ListActiveBilateralTo(_ context.Context, target string) ([]trust.Relationship, error) {
	return r.filter(func(rel trust.Relationship) bool {
		return rel.Status == trust.StatusActive && rel.IsBilateral && rel.TargetOrganization == target
	}), nil
}

func (r relationships) ListByOrganization(_ context.Context, org string) ([]trust.Relationship, error) {
	return r.filter(func(rel trust.Relationship) bool { return rel.Involves(org) }), nil
}

func (r relationships) ListExpiring(_ context.Context, now time.Time) ([]trust.Relationship, error) {
	return r.filter(func(rel trust.Relationship) bool {
		return rel.Status == trust.StatusActive && rel.ValidUntil != nil && !rel.ValidUntil.After(now)
	}), nil
}

func (r relationships) ordered() []trust.Relationship {
	st := r.read()
	out := make([]trust.Relationship, 0, len(st.relOrder))
	for _, id := range st.relOrder {
		out = append(out, st.relationships[id])
	}
	return out
}

func (r relationships) filter(keep func(trust.Relationship) bool) []trust.Relationship {
	var out []trust.Relationship
	for _, rel := range r.ordered() {
		if keep(rel) {
			out = append(out, rel)
		}
	}
	return out
}

type groups struct{ access }

func cloneGroup(g trust.Group) trust.Group {
	g.Administrators = append([]string(nil), g.Administrators...)
	return g
}

func (r groups) Create(_ context.Context, group *trust.Group) error {
	return r.write(func(st *state) error {
		if _, ok := st.groups[group.ID]; ok {
			return trust.ErrConflict
		}
		for _, g := range st.groups {
			if strings.EqualFold(g.Name, group.Name) {
				return trust.ErrConflict
			}
		}
		st.groups[group.ID] = cloneGroup(*group)
		st.groupOrder = append(st.groupOrder, group.ID)
		return nil
	})
}

func (r groups) Update(_ context.Context, group *trust.Group) error {
	return r.write(func(st *state) error {
		if _, ok := st.groups[group.ID]; !ok {
			return trust.ErrNotFound
		}
		st.groups[group.ID] = cloneGroup(*group)
		return nil
	})
}

func (r groups) Get(_ context.Context, id string) (trust.Group, error) {
	g, ok := r.read().groups[id]
	if !ok {
		return trust.Group{}, trust.ErrNotFound
	}
	return cloneGroup(g), nil
}

func (r groups) GetForUpdate(ctx context.Context, id string) (trust.Group, error) {
	return r.Get(ctx, id)
}

func (r groups) ListPublic(context.Context) ([]trust.Group, error) {
	st := r.read()
	var out []trust.Group
	for _, id := range st.groupOrder {
		g := st.groups[id]
		if g.IsActive && g.IsPublic {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

type memberships struct{ access }

func currentClash(st *state, m trust.Membership) bool {
	if !m.Current() {
		return false
	}
	for id, other := range st.memberships {
		if id != m.ID && other.Current() && other.GroupID == m.GroupID && other.OrganizationID == m.OrganizationID {
			return true
		}
	}
	return false
}

func (r memberships) Create(_ context.Context, m *trust.Membership) error {
	return r.write(func(st *state) error {
		if _, ok := st.memberships[m.ID]; ok || currentClash(st, *m) {
			return trust.ErrConflict
		}
		st.memberships[m.ID] = *m
		st.memberOrder = append(st.memberOrder, m.ID)
		return nil
	})
}

func (r memberships) Update(_ context.Context, m *trust.Membership) error {
	return r.write(func(st *state) error {
		if _, ok := st.memberships[m.ID]; !ok {
			return trust.ErrNotFound
		}
		if currentClash(st, *m) {
			return trust.ErrConflict
		}
		st.memberships[m.ID] = *m
		return nil
	})
}

func (r memberships) FindCurrent(_ context.Context, groupID, org string) (trust.Membership, bool, error) {
	st := r.read()
	for _, id := range st.memberOrder {
		m := st.memberships[id]
		if m.GroupID == groupID && m.OrganizationID == org && m.Current() {
			return m, true, nil
		}
	}
	return trust.Membership{}, false, nil
}

func (r memberships) FindCurrentForUpdate(ctx context.Context, groupID, org string) (trust.Membership, bool, error) {
	return r.FindCurrent(ctx, groupID, org)
}

func (r memberships) ListActiveByOrganization(_ context.Context, org string) ([]trust.Membership, error) {
	return r.filter(func(m trust.Membership) bool { return m.IsActive && m.OrganizationID == org }), nil
}

func (r memberships) ListActiveByGroup(_ context.Context, groupID string) ([]trust.Membership, error) {
	return r.filter(func(m trust.Membership) bool { return m.IsActive && m.GroupID == groupID }), nil
}

func (r memberships) filter(keep func(trust.Membership) bool) []trust.Membership {
	st := r.read()
	var out []trust.Membership
	for _, id := range st.memberOrder {
		if m := st.memberships[id]; keep(m) {
			out = append(out, m)
		}
	}
	return out
}

type logs struct{ access }

func (r logs) Append(_ context.Context, entry *trust.LogEntry) error {
	return r.write(func(st *state) error {
		st.logs = append(st.logs, *entry)
		return nil
	})
}

// List returns matching entries newest first.
func (r logs) List(_ context.Context, filter trust.LogFilter) ([]trust.LogEntry, error) {
	all := r.read().logs
	var out []trust.LogEntry
	for i := len(all) - 1; i >= 0; i-- {
		if !filter.Matches(all[i]) {
			continue
		}
		out = append(out, all[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
