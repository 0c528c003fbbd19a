package trust

import (
	"context"
	"time"
)

// Store describes persistence required by the trust services. Read methods on the
// embedded Repositories are snapshot reads; mutations go through InTx.
type Store interface {
	Repositories
	// InTx runs fn inside one transaction. A non-nil error from fn rolls back every
	// write made through the Repositories handed to fn, including log appends.
	InTx(ctx context.Context, fn func(tx Repositories) error) error
}

// Repositories bundles the per-entity repositories.
type Repositories interface {
	Levels() LevelRepository
	Relationships() RelationshipRepository
	Groups() GroupRepository
	Memberships() MembershipRepository
	Logs() LogRepository
}

// LevelRepository manages the trust tier catalog.
type LevelRepository interface {
	Create(ctx context.Context, level *TrustLevel) error
	Update(ctx context.Context, level *TrustLevel) error
	Get(ctx context.Context, id string) (TrustLevel, error)
	// GetByName matches case-insensitively; absence is (zero, false, nil).
	GetByName(ctx context.Context, name string) (TrustLevel, bool, error)
	// ListActive returns active levels ordered by numerical value ascending.
	ListActive(ctx context.Context) ([]TrustLevel, error)
}

// RelationshipRepository manages explicit relationships. Create and Update return
// ErrConflict when a second active row would exist for the same ordered pair.
type RelationshipRepository interface {
	Create(ctx context.Context, rel *Relationship) error
	Update(ctx context.Context, rel *Relationship) error
	Get(ctx context.Context, id string) (Relationship, error)
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (Relationship, error)
	// FindActive returns the active source→target row, if any.
	FindActive(ctx context.Context, source, target string) (Relationship, bool, error)
	ListActiveFrom(ctx context.Context, source string) ([]Relationship, error)
	ListActiveBilateralTo(ctx context.Context, target string) ([]Relationship, error)
	ListByOrganization(ctx context.Context, org string) ([]Relationship, error)
	// ListExpiring returns active rows whose valid_until is at or before now.
	ListExpiring(ctx context.Context, now time.Time) ([]Relationship, error)
}

// GroupRepository manages trust groups. Create returns ErrConflict on duplicate name.
type GroupRepository interface {
	Create(ctx context.Context, group *Group) error
	Update(ctx context.Context, group *Group) error
	Get(ctx context.Context, id string) (Group, error)
	GetForUpdate(ctx context.Context, id string) (Group, error)
	ListPublic(ctx context.Context) ([]Group, error)
}

// MembershipRepository manages group memberships. Create returns ErrConflict when
// a current (active or pending) membership already exists for the pair.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	Update(ctx context.Context, m *Membership) error
	FindCurrent(ctx context.Context, groupID, org string) (Membership, bool, error)
	FindCurrentForUpdate(ctx context.Context, groupID, org string) (Membership, bool, error)
	ListActiveByOrganization(ctx context.Context, org string) ([]Membership, error)
	ListActiveByGroup(ctx context.Context, groupID string) ([]Membership, error)
}

// LogRepository is append-only: there is no way to change or remove an entry.
type LogRepository interface {
	Append(ctx context.Context, entry *LogEntry) error
	List(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}
