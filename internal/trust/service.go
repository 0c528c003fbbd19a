package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tisp.org/internal/audit"
	"tisp.org/internal/ids"
	"tisp.org/internal/obs"
)

// Notification event types.
const (
	EventRelationshipCreated     = "relationship_created"
	EventRelationshipApproved    = "relationship_approved"
	EventRelationshipRevoked     = "relationship_revoked"
	EventRelationshipSuspended   = "relationship_suspended"
	EventRelationshipReactivated = "relationship_reactivated"
	EventRelationshipExpired     = "relationship_expired"
	EventTrustLevelChanged       = "relationship_trust_level_changed"
	EventGroupCreated            = "group_created"
	EventMembershipJoined        = "membership_joined"
	EventMembershipLeft          = "membership_left"
	EventMembershipPromoted      = "membership_promoted"
	EventMembershipApproved      = "membership_approved"
)

// DefaultFallbackLevel names the tier substituted when a requested tier is unknown.
const DefaultFallbackLevel = "public"

// Notifier receives lifecycle events after the triggering transaction commits.
// Returned errors are logged and counted, never surfaced to the caller.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, eventType string, payload map[string]any) error

func (f NotifierFunc) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	return f(ctx, eventType, payload)
}

// Option configures Service and GroupService.
type Option func(*core)

// WithNotifier injects the event sink.
func WithNotifier(n Notifier) Option {
	return func(c *core) {
		c.notifier = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *core) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithStrictLevels makes unknown tier names fail with InvalidTrustLevel instead of
// falling back to a default tier.
func WithStrictLevels(strict bool) Option {
	return func(c *core) {
		c.strict = strict
	}
}

// WithFallbackLevel overrides the tier name used by the permissive fallback.
func WithFallbackLevel(name string) Option {
	return func(c *core) {
		if name = strings.TrimSpace(name); name != "" {
			c.fallbackLevel = name
		}
	}
}

// core holds what both services share: the store, the tier registry and the
// ambient collaborators.
type core struct {
	store         Store
	levels        *Registry
	notifier      Notifier
	logger        *zap.Logger
	now           func() time.Time
	strict        bool
	fallbackLevel string
}

func newCore(store Store, opts []Option) (core, error) {
	if store == nil {
		return core{}, errors.New("trust store is required")
	}
	c := core{
		store:         store,
		logger:        zap.NewNop(),
		now:           time.Now,
		fallbackLevel: DefaultFallbackLevel,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.levels = NewRegistry(store.Levels())
	return c, nil
}

func (c *core) clock() time.Time {
	return c.now().UTC()
}

type pendingEvent struct {
	eventType string
	payload   map[string]any
}

// journal collects the audit entries and events of one mutation. Entries are
// written inside the transaction; events and log mirroring happen after commit.
type journal struct {
	c       *core
	tx      Repositories
	now     time.Time
	entries []LogEntry
	events  []pendingEvent
}

func (j *journal) log(ctx context.Context, entry LogEntry) error {
	entry.ID = ids.New()
	entry.Timestamp = j.now
	entry.Success = true
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		entry.Details["request_id"] = rid
	}
	if err := j.tx.Logs().Append(ctx, &entry); err != nil {
		return persistence("append trust log", err)
	}
	j.entries = append(j.entries, entry)
	return nil
}

func (j *journal) emit(eventType string, payload map[string]any) {
	j.events = append(j.events, pendingEvent{eventType: eventType, payload: payload})
}

// mutate runs fn in one transaction. The audit append and the primary write
// commit together or not at all.
func (c *core) mutate(ctx context.Context, fn func(j *journal) error) error {
	var j *journal
	err := c.store.InTx(ctx, func(tx Repositories) error {
		j = &journal{c: c, tx: tx, now: c.clock()}
		return fn(j)
	})
	if err != nil {
		return persistence("transaction", err)
	}
	for _, e := range j.entries {
		_ = audit.Emit(ctx, c.logger, string(e.Action), mirrorFields(e))
	}
	for _, ev := range j.events {
		c.notify(ctx, ev.eventType, ev.payload)
	}
	return nil
}

// recordFailure appends a success=false entry in its own transaction. It is best
// effort: the caller already has the real error to return.
func (c *core) recordFailure(ctx context.Context, entry LogEntry, cause error) {
	entry.ID = ids.New()
	entry.Timestamp = c.clock()
	entry.Success = false
	entry.FailureReason = cause.Error()
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	entry.Details["kind"] = string(KindOf(cause))
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		entry.Details["request_id"] = rid
	}
	err := c.store.InTx(ctx, func(tx Repositories) error {
		return tx.Logs().Append(ctx, &entry)
	})
	if err != nil {
		c.logger.Warn("record failed trust action",
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

// auditable reports whether a failure concerns a rule violation worth recording,
// as opposed to a lookup miss or a storage outage.
func auditable(err error) bool {
	switch KindOf(err) {
	case KindAlreadyApproved, KindNotPartOfRelationship, KindInsufficientPermission, KindInvalidState, KindDuplicateActiveRelationship:
		return true
	}
	return false
}

func (c *core) notify(ctx context.Context, eventType string, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification sink panicked",
				zap.String("event", eventType),
				zap.String("panic", fmt.Sprint(r)),
			)
			obs.ObserveNotifyFailure(eventType)
		}
	}()
	if err := c.notifier.Notify(ctx, eventType, payload); err != nil {
		c.logger.Warn("notification sink failed",
			zap.String("event", eventType),
			zap.Error(err),
		)
		obs.ObserveNotifyFailure(eventType)
	}
}

func mirrorFields(e LogEntry) map[string]any {
	fields := map[string]any{
		"id":      e.ID,
		"source":  e.SourceOrganization,
		"user":    e.User,
		"success": e.Success,
	}
	if e.TargetOrganization != "" {
		fields["target"] = e.TargetOrganization
	}
	if e.RelationshipID != "" {
		fields["relationship_id"] = e.RelationshipID
	}
	if e.GroupID != "" {
		fields["group_id"] = e.GroupID
	}
	for k, v := range e.Details {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	return fields
}

// Service orchestrates relationships, trust resolution, access decisions and
// sharing fan-out.
type Service struct {
	core
}

// NewService constructs the trust service.
func NewService(store Store, opts ...Option) (*Service, error) {
	c, err := newCore(store, opts)
	if err != nil {
		return nil, err
	}
	return &Service{core: c}, nil
}

// Levels exposes the read-only tier registry.
func (s *Service) Levels() *Registry {
	return s.levels
}

// AuditTrail lists trust log entries.
func (s *Service) AuditTrail(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	entries, err := s.store.Logs().List(ctx, filter)
	if err != nil {
		return nil, persistence("list trust log", err)
	}
	return entries, nil
}
