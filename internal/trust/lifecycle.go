package trust

import "time"

// side identifies which party of a relationship is acting.
type side int

const (
	sideSource side = iota
	sideTarget
)

func (r Relationship) sideOf(org string) (side, bool) {
	switch org {
	case r.SourceOrganization:
		return sideSource, true
	case r.TargetOrganization:
		return sideTarget, true
	}
	return 0, false
}

var transitions = map[RelationshipStatus][]RelationshipStatus{
	StatusPending:   {StatusActive, StatusRevoked},
	StatusActive:    {StatusSuspended, StatusRevoked, StatusExpired},
	StatusSuspended: {StatusActive, StatusRevoked, StatusExpired},
}

func canTransition(from, to RelationshipStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (r *Relationship) moveTo(to RelationshipStatus, now time.Time) error {
	if !canTransition(r.Status, to) {
		return newError(KindInvalidState, "relationship %s cannot move from %s to %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// approve records approval for one side. It returns true when this call completed
// the second approval and moved the relationship to active.
func (r *Relationship) approve(s side, user string, now time.Time) (bool, error) {
	if r.Status.Terminal() {
		return false, newError(KindInvalidState, "relationship %s is %s and cannot be approved", r.ID, r.Status)
	}
	if (s == sideSource && r.ApprovedBySource) || (s == sideTarget && r.ApprovedByTarget) {
		return false, newError(KindAlreadyApproved, "%s organization already approved relationship %s", sideName(s), r.ID)
	}
	if r.Status != StatusPending {
		return false, newError(KindInvalidState, "relationship %s is %s and cannot be approved", r.ID, r.Status)
	}
	switch s {
	case sideSource:
		r.ApprovedBySource = true
		r.SourceApprovedBy = user
		r.SourceApprovedAt = &now
	case sideTarget:
		r.ApprovedByTarget = true
		r.TargetApprovedBy = user
		r.TargetApprovedAt = &now
	}
	r.LastModifiedBy = user
	r.UpdatedAt = now
	if r.ApprovedBySource && r.ApprovedByTarget {
		return true, r.moveTo(StatusActive, now)
	}
	return false, nil
}

func (r *Relationship) revoke(user string, now time.Time) error {
	if err := r.moveTo(StatusRevoked, now); err != nil {
		return err
	}
	r.RevokedBy = user
	r.RevokedAt = &now
	r.LastModifiedBy = user
	return nil
}

func (r *Relationship) suspend(user string, now time.Time) error {
	if r.Status != StatusActive {
		return newError(KindInvalidState, "only active relationships can be suspended, %s is %s", r.ID, r.Status)
	}
	if err := r.moveTo(StatusSuspended, now); err != nil {
		return err
	}
	r.LastModifiedBy = user
	return nil
}

func (r *Relationship) reactivate(user string, now time.Time) error {
	if r.Status != StatusSuspended {
		return newError(KindInvalidState, "only suspended relationships can be reactivated, %s is %s", r.ID, r.Status)
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return newError(KindInvalidState, "relationship %s validity ended at %s", r.ID, r.ValidUntil.Format(time.RFC3339))
	}
	if err := r.moveTo(StatusActive, now); err != nil {
		return err
	}
	r.LastModifiedBy = user
	return nil
}

func (r *Relationship) expire(now time.Time) error {
	if err := r.moveTo(StatusExpired, now); err != nil {
		return err
	}
	r.LastModifiedBy = SystemActor.UserID()
	return nil
}

// applyLevel sets the tier and re-derives access and anonymization defaults.
func (r *Relationship) applyLevel(level TrustLevel) {
	r.TrustLevel = level
	r.AccessLevel = level.DefaultAccessLevel
	r.AnonymizationLevel = level.DefaultAnonymizationLevel
}
