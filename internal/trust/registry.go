package trust

import (
	"context"
	"strings"

	"tisp.org/internal/ids"
)

// Registry answers read-only questions about the trust tier catalog.
type Registry struct {
	repo LevelRepository
}

// NewRegistry wraps a level repository.
func NewRegistry(repo LevelRepository) *Registry {
	return &Registry{repo: repo}
}

// GetByName looks a tier up by name, case-insensitively. A missing tier is
// reported as false, not as an error.
func (r *Registry) GetByName(ctx context.Context, name string) (TrustLevel, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TrustLevel{}, false, nil
	}
	level, found, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return TrustLevel{}, false, persistence("get trust level", err)
	}
	return level, found, nil
}

// ActiveLevelsOrdered returns active tiers, lowest numerical value first.
func (r *Registry) ActiveLevelsOrdered(ctx context.Context) ([]TrustLevel, error) {
	levels, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, persistence("list trust levels", err)
	}
	return levels, nil
}

// Minimum resolves a floor from an active tier name, or failing that from a tier
// tag, in which case the lowest active tier carrying the tag wins.
func (r *Registry) Minimum(ctx context.Context, nameOrTag string) (int, bool, error) {
	level, found, err := r.GetByName(ctx, nameOrTag)
	if err != nil {
		return 0, false, err
	}
	if found && level.IsActive {
		return level.NumericalValue, true, nil
	}
	tag := strings.TrimSpace(nameOrTag)
	if tag == "" {
		return 0, false, nil
	}
	levels, err := r.ActiveLevelsOrdered(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, l := range levels {
		if strings.EqualFold(l.Level, tag) {
			return l.NumericalValue, true, nil
		}
	}
	return 0, false, nil
}

// lowest returns the lowest active tier.
func (r *Registry) lowest(ctx context.Context) (TrustLevel, bool, error) {
	levels, err := r.ActiveLevelsOrdered(ctx)
	if err != nil || len(levels) == 0 {
		return TrustLevel{}, false, err
	}
	return levels[0], true, nil
}

// DefaultLevels is the seed tier catalog.
func DefaultLevels() []TrustLevel {
	return []TrustLevel{
		{Name: "Public", Level: "public", NumericalValue: 10, DefaultAccessLevel: AccessRead, DefaultAnonymizationLevel: AnonymizationFull, IsActive: true, IsSystemDefault: true,
			Description: "Open community sharing with full anonymization"},
		{Name: "Low", Level: "low", NumericalValue: 25, DefaultAccessLevel: AccessRead, DefaultAnonymizationLevel: AnonymizationPartial, IsActive: true, IsSystemDefault: true,
			Description: "Read-only access to partially anonymized intelligence"},
		{Name: "Medium", Level: "medium", NumericalValue: 50, DefaultAccessLevel: AccessSubscribe, DefaultAnonymizationLevel: AnonymizationPartial, IsActive: true, IsSystemDefault: true,
			Description: "Subscription to shared feeds"},
		{Name: "High", Level: "high", NumericalValue: 75, DefaultAccessLevel: AccessContribute, DefaultAnonymizationLevel: AnonymizationMinimal, IsActive: true, IsSystemDefault: true,
			Description: "Trusted partners that contribute to shared collections"},
		{Name: "Complete", Level: "complete", NumericalValue: 100, DefaultAccessLevel: AccessFull, DefaultAnonymizationLevel: AnonymizationNone, IsActive: true, IsSystemDefault: true,
			Description: "Full access without anonymization"},
	}
}

func validateLevel(l TrustLevel) error {
	if strings.TrimSpace(l.Name) == "" {
		return newError(KindInvalidTrustLevel, "trust level name is required")
	}
	if strings.TrimSpace(l.Level) == "" {
		return newError(KindInvalidTrustLevel, "trust level %s needs a tier tag", l.Name)
	}
	if l.NumericalValue < 0 || l.NumericalValue > 100 {
		return newError(KindInvalidTrustLevel, "numerical value %d outside 0-100", l.NumericalValue)
	}
	if l.DefaultAccessLevel.Rank() < 0 {
		return newError(KindInvalidTrustLevel, "unknown default access level %q", l.DefaultAccessLevel)
	}
	if !l.DefaultAnonymizationLevel.valid() {
		return newError(KindInvalidTrustLevel, "unknown default anonymization level %q", l.DefaultAnonymizationLevel)
	}
	return nil
}

// CreateLevel adds a tier to the catalog. Platform administrators only.
func (s *Service) CreateLevel(ctx context.Context, actor Actor, level TrustLevel) (TrustLevel, error) {
	if !isPlatformAdmin(actor) {
		return TrustLevel{}, newError(KindInsufficientPermission, "only platform administrators manage trust levels")
	}
	level.Name = strings.TrimSpace(level.Name)
	level.Level = strings.ToLower(strings.TrimSpace(level.Level))
	if level.DefaultAnonymizationLevel == "" {
		level.DefaultAnonymizationLevel = AnonymizationPartial
	}
	if err := validateLevel(level); err != nil {
		return TrustLevel{}, err
	}
	err := s.mutate(ctx, func(j *journal) error {
		if _, found, err := j.tx.Levels().GetByName(ctx, level.Name); err != nil {
			return persistence("get trust level", err)
		} else if found {
			return newError(KindInvalidTrustLevel, "trust level %q already exists", level.Name)
		}
		active, err := j.tx.Levels().ListActive(ctx)
		if err != nil {
			return persistence("list trust levels", err)
		}
		for _, l := range active {
			if l.NumericalValue == level.NumericalValue {
				return newError(KindInvalidTrustLevel, "numerical value %d already used by %s", level.NumericalValue, l.Name)
			}
		}
		level.ID = ids.New()
		level.IsActive = true
		level.CreatedBy = userOf(actor)
		level.CreatedAt = j.now
		level.UpdatedAt = j.now
		if err := j.tx.Levels().Create(ctx, &level); err != nil {
			if isConflict(err) {
				return newError(KindInvalidTrustLevel, "trust level %q already exists", level.Name)
			}
			return persistence("create trust level", err)
		}
		return j.log(ctx, LogEntry{
			Action:             ActionTrustLevelCreated,
			SourceOrganization: actor.OrganizationID(),
			User:               userOf(actor),
			Details: map[string]any{
				"trust_level":     level.Name,
				"level":           level.Level,
				"numerical_value": level.NumericalValue,
			},
		})
	})
	if err != nil {
		return TrustLevel{}, err
	}
	return level, nil
}

// DeactivateLevel retires a tier. Existing relationships keep referencing it but
// it can no longer be chosen for new ones.
func (s *Service) DeactivateLevel(ctx context.Context, actor Actor, id string) (TrustLevel, error) {
	if !isPlatformAdmin(actor) {
		return TrustLevel{}, newError(KindInsufficientPermission, "only platform administrators manage trust levels")
	}
	var level TrustLevel
	err := s.mutate(ctx, func(j *journal) error {
		var err error
		level, err = j.tx.Levels().Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return newError(KindInvalidTrustLevel, "trust level %s not found", id)
			}
			return persistence("get trust level", err)
		}
		if !level.IsActive {
			return nil
		}
		level.IsActive = false
		level.UpdatedAt = j.now
		if err := j.tx.Levels().Update(ctx, &level); err != nil {
			return persistence("update trust level", err)
		}
		return j.log(ctx, LogEntry{
			Action:             ActionTrustLevelDeactivated,
			SourceOrganization: actor.OrganizationID(),
			User:               userOf(actor),
			Details:            map[string]any{"trust_level": level.Name},
		})
	})
	if err != nil {
		return TrustLevel{}, err
	}
	return level, nil
}
