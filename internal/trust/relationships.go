package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tisp.org/internal/ids"
	"tisp.org/internal/obs"
)

// CreateRelationshipInput describes a new relationship proposal.
type CreateRelationshipInput struct {
	SourceOrganization string
	TargetOrganization string
	// TrustLevel is the tier name; lookup is case-insensitive.
	TrustLevel         string
	Type               RelationshipType
	IsBilateral        bool
	SharingPreferences map[string]any
	ValidUntil         *time.Time
	Notes              string
}

// CreateRelationship proposes a relationship from the source to the target
// organization. The relationship starts pending; community relationships carry
// the source approval from the start.
func (s *Service) CreateRelationship(ctx context.Context, actor Actor, in CreateRelationshipInput) (Relationship, error) {
	source := strings.TrimSpace(in.SourceOrganization)
	target := strings.TrimSpace(in.TargetOrganization)
	if source == "" || target == "" {
		return Relationship{}, newError(KindInvalidInput, "source and target organizations are required")
	}
	if source == target {
		return Relationship{}, newError(KindSameOrganization, "organization %s cannot trust itself", source)
	}
	if err := requireActFor(actor, source); err != nil {
		return Relationship{}, err
	}
	relType := in.Type
	if relType == "" {
		relType = RelationshipBilateral
	}
	if !relType.valid() {
		return Relationship{}, newError(KindInvalidInput, "unknown relationship type %q", in.Type)
	}
	now := s.clock()
	if in.ValidUntil != nil && !in.ValidUntil.After(now) {
		return Relationship{}, newError(KindInvalidInput, "valid_until must be in the future")
	}

	var rel Relationship
	err := s.mutate(ctx, func(j *journal) error {
		level, found, err := j.tx.Levels().GetByName(ctx, strings.TrimSpace(in.TrustLevel))
		if err != nil {
			return persistence("get trust level", err)
		}
		if !found || !level.IsActive {
			return newError(KindInvalidTrustLevel, "trust level %q is not available", in.TrustLevel)
		}
		if _, exists, err := j.tx.Relationships().FindActive(ctx, source, target); err != nil {
			return persistence("find active relationship", err)
		} else if exists {
			return newError(KindDuplicateActiveRelationship, "an active relationship from %s to %s already exists", source, target)
		}

		user := userOf(actor)
		rel = Relationship{
			ID:                 ids.New(),
			SourceOrganization: source,
			TargetOrganization: target,
			Type:               relType,
			Status:             StatusPending,
			IsBilateral:        in.IsBilateral,
			ValidFrom:          j.now,
			ValidUntil:         in.ValidUntil,
			SharingPreferences: in.SharingPreferences,
			Notes:              in.Notes,
			CreatedBy:          user,
			LastModifiedBy:     user,
			CreatedAt:          j.now,
			UpdatedAt:          j.now,
		}
		rel.applyLevel(level)
		if relType == RelationshipCommunity {
			at := j.now
			rel.ApprovedBySource = true
			rel.SourceApprovedBy = user
			rel.SourceApprovedAt = &at
		}
		if err := j.tx.Relationships().Create(ctx, &rel); err != nil {
			if isConflict(err) {
				return newError(KindDuplicateActiveRelationship, "an active relationship from %s to %s already exists", source, target)
			}
			return persistence("create relationship", err)
		}
		if err := j.log(ctx, LogEntry{
			Action:             ActionRelationshipCreated,
			SourceOrganization: source,
			TargetOrganization: target,
			RelationshipID:     rel.ID,
			User:               user,
			Details: map[string]any{
				"trust_level":       level.Name,
				"relationship_type": string(relType),
				"is_bilateral":      rel.IsBilateral,
			},
		}); err != nil {
			return err
		}
		j.emit(EventRelationshipCreated, relationshipPayload(rel))
		return nil
	})
	if err != nil {
		return Relationship{}, err
	}
	obs.ObserveTransition(string(StatusPending))
	return rel, nil
}

// ApproveRelationship records the approving organization's consent. It returns
// true when this approval activated the relationship.
func (s *Service) ApproveRelationship(ctx context.Context, id, approvingOrg string, actor Actor) (bool, error) {
	if err := requireActFor(actor, approvingOrg); err != nil {
		return false, err
	}
	var activated bool
	err := s.transition(ctx, id, ActionRelationshipApproved, approvingOrg, actor, func(j *journal, rel *Relationship) (map[string]any, error) {
		side, ok := rel.sideOf(approvingOrg)
		if !ok {
			return nil, newError(KindNotPartOfRelationship, "organization %s is not part of relationship %s", approvingOrg, rel.ID)
		}
		var err error
		activated, err = rel.approve(side, userOf(actor), j.now)
		if err != nil {
			return nil, err
		}
		details := map[string]any{
			"activated":          activated,
			"approving_side":     sideName(side),
			"approved_by_source": rel.ApprovedBySource,
			"approved_by_target": rel.ApprovedByTarget,
		}
		payload := relationshipPayload(*rel)
		payload["activated"] = activated
		payload["approving_organization"] = approvingOrg
		j.emit(EventRelationshipApproved, payload)
		return details, nil
	})
	if err != nil {
		return false, err
	}
	if activated {
		obs.ObserveTransition(string(StatusActive))
	}
	return activated, nil
}

// RevokeRelationship terminates a pending, active or suspended relationship on
// behalf of either party.
func (s *Service) RevokeRelationship(ctx context.Context, id, revokingOrg string, actor Actor, reason string) (bool, error) {
	if err := requireActFor(actor, revokingOrg); err != nil {
		return false, err
	}
	err := s.transition(ctx, id, ActionRelationshipRevoked, revokingOrg, actor, func(j *journal, rel *Relationship) (map[string]any, error) {
		if _, ok := rel.sideOf(revokingOrg); !ok {
			return nil, newError(KindNotPartOfRelationship, "organization %s is not part of relationship %s", revokingOrg, rel.ID)
		}
		previous := rel.Status
		if err := rel.revoke(userOf(actor), j.now); err != nil {
			return nil, err
		}
		payload := relationshipPayload(*rel)
		payload["revoking_organization"] = revokingOrg
		payload["reason"] = reason
		j.emit(EventRelationshipRevoked, payload)
		return map[string]any{"reason": reason, "previous_status": string(previous)}, nil
	})
	if err != nil {
		return false, err
	}
	obs.ObserveTransition(string(StatusRevoked))
	return true, nil
}

// SuspendRelationship pauses an active relationship without terminating it.
func (s *Service) SuspendRelationship(ctx context.Context, id, org string, actor Actor, reason string) error {
	if err := requireActFor(actor, org); err != nil {
		return err
	}
	err := s.transition(ctx, id, ActionRelationshipSuspended, org, actor, func(j *journal, rel *Relationship) (map[string]any, error) {
		if _, ok := rel.sideOf(org); !ok {
			return nil, newError(KindNotPartOfRelationship, "organization %s is not part of relationship %s", org, rel.ID)
		}
		if err := rel.suspend(userOf(actor), j.now); err != nil {
			return nil, err
		}
		payload := relationshipPayload(*rel)
		payload["reason"] = reason
		j.emit(EventRelationshipSuspended, payload)
		return map[string]any{"reason": reason}, nil
	})
	if err != nil {
		return err
	}
	obs.ObserveTransition(string(StatusSuspended))
	return nil
}

// ReactivateRelationship resumes a suspended relationship that is still within
// its validity window.
func (s *Service) ReactivateRelationship(ctx context.Context, id, org string, actor Actor) error {
	if err := requireActFor(actor, org); err != nil {
		return err
	}
	err := s.transition(ctx, id, ActionRelationshipReactivated, org, actor, func(j *journal, rel *Relationship) (map[string]any, error) {
		if _, ok := rel.sideOf(org); !ok {
			return nil, newError(KindNotPartOfRelationship, "organization %s is not part of relationship %s", org, rel.ID)
		}
		if err := rel.reactivate(userOf(actor), j.now); err != nil {
			return nil, err
		}
		j.emit(EventRelationshipReactivated, relationshipPayload(*rel))
		return nil, nil
	})
	if err != nil {
		return err
	}
	obs.ObserveTransition(string(StatusActive))
	return nil
}

// UpdateTrustLevel moves a relationship to another tier and re-derives its access
// and anonymization defaults. It returns false when the tier was already set.
func (s *Service) UpdateTrustLevel(ctx context.Context, id, levelName string, actor Actor, reason string) (bool, error) {
	var changed bool
	err := s.transition(ctx, id, ActionTrustLevelModified, "", actor, func(j *journal, rel *Relationship) (map[string]any, error) {
		if !canActFor(actor, rel.SourceOrganization) && !canActFor(actor, rel.TargetOrganization) {
			return nil, newError(KindInsufficientPermission, "actor may not modify relationship %s", rel.ID)
		}
		if rel.Status.Terminal() {
			return nil, newError(KindInvalidState, "relationship %s is %s", rel.ID, rel.Status)
		}
		level, found, err := j.tx.Levels().GetByName(ctx, strings.TrimSpace(levelName))
		if err != nil {
			return nil, persistence("get trust level", err)
		}
		if !found || !level.IsActive {
			return nil, newError(KindInvalidTrustLevel, "trust level %q is not available", levelName)
		}
		old := rel.TrustLevel
		if old.ID == level.ID {
			return nil, errUnchanged
		}
		changed = true
		rel.applyLevel(level)
		rel.LastModifiedBy = userOf(actor)
		rel.UpdatedAt = j.now
		rel.Notes = appendNote(rel.Notes, fmt.Sprintf("[%s] trust level changed from %s to %s by %s: %s",
			j.now.Format(time.RFC3339), old.Name, level.Name, userOf(actor), reason))

		payload := relationshipPayload(*rel)
		payload["old_trust_level"] = old.Name
		payload["reason"] = reason
		j.emit(EventTrustLevelChanged, payload)
		return map[string]any{
			"old_trust_level": old.Name,
			"new_trust_level": level.Name,
			"reason":          reason,
		}, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ExpireRelationships moves active relationships past their valid_until to
// expired. Resolution already ignores them; this sweep keeps stored state tidy.
func (s *Service) ExpireRelationships(ctx context.Context) (int, error) {
	var expired int
	err := s.mutate(ctx, func(j *journal) error {
		due, err := j.tx.Relationships().ListExpiring(ctx, j.now)
		if err != nil {
			return persistence("list expiring relationships", err)
		}
		for _, candidate := range due {
			rel, err := j.tx.Relationships().GetForUpdate(ctx, candidate.ID)
			if err != nil {
				return persistence("lock relationship", err)
			}
			if rel.Status != StatusActive || rel.ValidUntil == nil || j.now.Before(*rel.ValidUntil) {
				continue
			}
			if err := rel.expire(j.now); err != nil {
				return err
			}
			if err := j.tx.Relationships().Update(ctx, &rel); err != nil {
				return persistence("update relationship", err)
			}
			if err := j.log(ctx, LogEntry{
				Action:             ActionRelationshipExpired,
				SourceOrganization: rel.SourceOrganization,
				TargetOrganization: rel.TargetOrganization,
				RelationshipID:     rel.ID,
				User:               SystemActor.UserID(),
				Details:            map[string]any{"valid_until": rel.ValidUntil.Format(time.RFC3339)},
			}); err != nil {
				return err
			}
			j.emit(EventRelationshipExpired, relationshipPayload(rel))
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := 0; i < expired; i++ {
		obs.ObserveTransition(string(StatusExpired))
	}
	return expired, nil
}

// ListRelationships returns every relationship the organization is part of.
func (s *Service) ListRelationships(ctx context.Context, org string) ([]Relationship, error) {
	rels, err := s.store.Relationships().ListByOrganization(ctx, org)
	if err != nil {
		return nil, persistence("list relationships", err)
	}
	return rels, nil
}

// GetRelationship fetches one relationship by id.
func (s *Service) GetRelationship(ctx context.Context, id string) (Relationship, error) {
	rel, err := s.store.Relationships().Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return Relationship{}, newError(KindRelationshipNotFound, "relationship %s not found", id)
		}
		return Relationship{}, persistence("get relationship", err)
	}
	return rel, nil
}

// errUnchanged aborts a transition without writing anything.
var errUnchanged = errors.New("trust: unchanged")

// transitionFunc mutates the locked relationship and returns the log details.
type transitionFunc func(j *journal, rel *Relationship) (map[string]any, error)

// transition locks a relationship, applies fn, persists the row and appends the
// log entry in one transaction. Rule violations found after the row was loaded
// are recorded as failed log entries.
func (s *Service) transition(ctx context.Context, id string, action Action, org string, actor Actor, fn transitionFunc) error {
	var loaded *Relationship
	err := s.mutate(ctx, func(j *journal) error {
		rel, err := j.tx.Relationships().GetForUpdate(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return newError(KindRelationshipNotFound, "relationship %s not found", id)
			}
			return persistence("lock relationship", err)
		}
		snapshot := rel
		loaded = &snapshot
		details, err := fn(j, &rel)
		if err != nil {
			return err
		}
		if err := j.tx.Relationships().Update(ctx, &rel); err != nil {
			if isConflict(err) {
				return newError(KindDuplicateActiveRelationship, "an active relationship from %s to %s already exists", rel.SourceOrganization, rel.TargetOrganization)
			}
			return persistence("update relationship", err)
		}
		if details == nil {
			details = map[string]any{}
		}
		if org != "" {
			details["acting_organization"] = org
		}
		details["status"] = string(rel.Status)
		return j.log(ctx, LogEntry{
			Action:             action,
			SourceOrganization: rel.SourceOrganization,
			TargetOrganization: rel.TargetOrganization,
			RelationshipID:     rel.ID,
			User:               userOf(actor),
			Details:            details,
		})
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil && loaded != nil && auditable(err) {
		details := map[string]any{"status": string(loaded.Status)}
		if org != "" {
			details["acting_organization"] = org
		}
		s.recordFailure(ctx, LogEntry{
			Action:             action,
			SourceOrganization: loaded.SourceOrganization,
			TargetOrganization: loaded.TargetOrganization,
			RelationshipID:     loaded.ID,
			User:               userOf(actor),
			Details:            details,
		}, err)
	}
	return err
}

func sideName(s side) string {
	if s == sideSource {
		return "source"
	}
	return "target"
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func relationshipPayload(rel Relationship) map[string]any {
	return map[string]any{
		"relationship_id":     rel.ID,
		"source_organization": rel.SourceOrganization,
		"target_organization": rel.TargetOrganization,
		"trust_level":         rel.TrustLevel.Name,
		"relationship_type":   string(rel.Type),
		"status":              string(rel.Status),
		"is_bilateral":        rel.IsBilateral,
	}
}
