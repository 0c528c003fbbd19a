package trust

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tisp.org/internal/obs"
)

// CheckTrustLevel resolves the trust the source organization extends to the
// target. Resolution tries the direct relationship, then the reverse one when it
// is bilateral, then shared group membership. It never writes.
func (s *Service) CheckTrustLevel(ctx context.Context, source, target string) (Resolution, bool, error) {
	if source == "" || target == "" || source == target {
		return Resolution{}, false, nil
	}
	now := s.clock()
	rels := s.store.Relationships()

	direct, found, err := rels.FindActive(ctx, source, target)
	if err != nil {
		return Resolution{}, false, persistence("find relationship", err)
	}
	if found && direct.IsEffective(now) {
		return Resolution{Level: direct.TrustLevel, Link: DirectLink{Relationship: direct}}, true, nil
	}

	reverse, found, err := rels.FindActive(ctx, target, source)
	if err != nil {
		return Resolution{}, false, persistence("find relationship", err)
	}
	if found && reverse.IsBilateral && reverse.IsEffective(now) {
		return Resolution{Level: reverse.TrustLevel, Link: DirectLink{Relationship: reverse, Reverse: true}}, true, nil
	}

	link, found, err := s.communityLink(ctx, source, target)
	if err != nil || !found {
		return Resolution{}, false, err
	}
	return Resolution{Level: link.Level, Link: link}, true, nil
}

// communityLink looks for active groups in which both organizations hold active
// memberships. When several groups qualify the one with the highest default
// tier wins.
func (s *Service) communityLink(ctx context.Context, source, target string) (CommunityLink, bool, error) {
	memberships, err := s.store.Memberships().ListActiveByOrganization(ctx, source)
	if err != nil {
		return CommunityLink{}, false, persistence("list memberships", err)
	}
	var (
		best  CommunityLink
		found bool
	)
	for _, m := range memberships {
		group, err := s.store.Groups().Get(ctx, m.GroupID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return CommunityLink{}, false, persistence("get group", err)
		}
		if !group.IsActive {
			continue
		}
		peer, ok, err := s.store.Memberships().FindCurrent(ctx, group.ID, target)
		if err != nil {
			return CommunityLink{}, false, persistence("find membership", err)
		}
		if !ok || !peer.IsActive {
			continue
		}
		if found && group.DefaultTrustLevel.NumericalValue <= best.Level.NumericalValue {
			continue
		}
		best = CommunityLink{
			GroupID:            group.ID,
			GroupName:          group.Name,
			SourceOrganization: source,
			TargetOrganization: target,
			Level:              group.DefaultTrustLevel,
		}
		found = true
	}
	return best, found, nil
}

// CanAccessIntelligence decides whether the requester may consume the owner's
// intelligence at the required access level.
func (s *Service) CanAccessIntelligence(ctx context.Context, requester, owner string, required AccessLevel) (Decision, error) {
	if required.Rank() < 0 {
		return Decision{}, newError(KindInvalidInput, "unknown access level %q", required)
	}
	decision, err := s.decide(ctx, requester, owner, required)
	if err != nil {
		return Decision{}, err
	}
	obs.ObserveAccessDecision(decision.Allowed)
	return decision, nil
}

func (s *Service) decide(ctx context.Context, requester, owner string, required AccessLevel) (Decision, error) {
	if requester == owner {
		return Decision{Allowed: true, Reason: "own organization"}, nil
	}
	// Trust flows from the owner to the requester.
	res, found, err := s.CheckTrustLevel(ctx, owner, requester)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return Decision{Reason: "no trust relationship exists"}, nil
	}
	if !res.Link.Effective(s.clock()) {
		return Decision{Reason: "trust relationship is not effective", Link: res.Link}, nil
	}
	granted := res.Level.EffectiveAccess()
	if required.Rank() > granted.Rank() {
		return Decision{
			Reason: fmt.Sprintf("requested %s access exceeds %s access granted by trust level %s", required, granted, res.Level.Name),
			Link:   res.Link,
		}, nil
	}
	return Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("%s access granted by trust level %s via %s link", granted, res.Level.Name, res.Link.Kind()),
		Link:    res.Link,
	}, nil
}

// SharingOrganizations enumerates every organization the source may share with at
// or above minLevel. Direct partners come first, then reverse bilateral ones,
// then group peers. An organization appears at most once per channel but may
// appear in more than one channel; use UniqueRecipients to collapse them.
func (s *Service) SharingOrganizations(ctx context.Context, source, minLevel string) ([]SharingPartner, error) {
	floor, err := s.floor(ctx, minLevel)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	var partners []SharingPartner

	direct := make(map[string]struct{})
	outgoing, err := s.store.Relationships().ListActiveFrom(ctx, source)
	if err != nil {
		return nil, persistence("list relationships", err)
	}
	for _, rel := range outgoing {
		if !rel.IsEffective(now) || !rel.TrustLevel.AtLeast(floor) {
			continue
		}
		if _, seen := direct[rel.TargetOrganization]; seen {
			continue
		}
		direct[rel.TargetOrganization] = struct{}{}
		partners = append(partners, SharingPartner{
			OrganizationID: rel.TargetOrganization,
			Level:          rel.TrustLevel,
			Link:           DirectLink{Relationship: rel},
		})
	}

	incoming, err := s.store.Relationships().ListActiveBilateralTo(ctx, source)
	if err != nil {
		return nil, persistence("list relationships", err)
	}
	for _, rel := range incoming {
		if !rel.IsEffective(now) || !rel.TrustLevel.AtLeast(floor) {
			continue
		}
		if _, seen := direct[rel.SourceOrganization]; seen {
			continue
		}
		direct[rel.SourceOrganization] = struct{}{}
		partners = append(partners, SharingPartner{
			OrganizationID: rel.SourceOrganization,
			Level:          rel.TrustLevel,
			Link:           DirectLink{Relationship: rel, Reverse: true},
		})
	}

	community, err := s.communityPartners(ctx, source, floor)
	if err != nil {
		return nil, err
	}
	partners = append(partners, community...)
	obs.ObserveSharingPartners(len(partners))
	return partners, nil
}

// floor resolves the minimum numerical value for fan-out. Unknown names fall
// back to the lowest active tier unless strict mode is on.
func (s *Service) floor(ctx context.Context, minLevel string) (int, error) {
	value, found, err := s.levels.Minimum(ctx, minLevel)
	if err != nil {
		return 0, err
	}
	if found {
		return value, nil
	}
	if s.strict {
		return 0, newError(KindInvalidTrustLevel, "unknown trust level %q", minLevel)
	}
	lowest, ok, err := s.levels.lowest(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Warn("no active trust levels, sharing without a floor",
			zap.String("requested", minLevel),
		)
		return 0, nil
	}
	s.logger.Warn("unknown minimum trust level, using lowest active tier",
		zap.String("requested", minLevel),
		zap.String("fallback", lowest.Name),
	)
	return lowest.NumericalValue, nil
}

func (s *Service) communityPartners(ctx context.Context, source string, floor int) ([]SharingPartner, error) {
	memberships, err := s.store.Memberships().ListActiveByOrganization(ctx, source)
	if err != nil {
		return nil, persistence("list memberships", err)
	}
	index := make(map[string]int)
	var out []SharingPartner
	for _, m := range memberships {
		group, err := s.store.Groups().Get(ctx, m.GroupID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, persistence("get group", err)
		}
		if !group.IsActive || !group.DefaultTrustLevel.AtLeast(floor) {
			continue
		}
		peers, err := s.store.Memberships().ListActiveByGroup(ctx, group.ID)
		if err != nil {
			return nil, persistence("list group members", err)
		}
		for _, peer := range peers {
			if peer.OrganizationID == source || !peer.IsActive {
				continue
			}
			partner := SharingPartner{
				OrganizationID: peer.OrganizationID,
				Level:          group.DefaultTrustLevel,
				Link: CommunityLink{
					GroupID:            group.ID,
					GroupName:          group.Name,
					SourceOrganization: source,
					TargetOrganization: peer.OrganizationID,
					Level:              group.DefaultTrustLevel,
				},
			}
			if i, seen := index[peer.OrganizationID]; seen {
				if partner.Level.NumericalValue > out[i].Level.NumericalValue {
					out[i] = partner
				}
				continue
			}
			index[peer.OrganizationID] = len(out)
			out = append(out, partner)
		}
	}
	return out, nil
}
