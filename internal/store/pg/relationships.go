package pg

import (
	"context"
	"database/sql"
	"time"

	"tisp.org/internal/trust"
)

const relationshipColumns = `r.id, r.source_organization, r.target_organization, r.relationship_type, r.status,
	r.is_bilateral, r.approved_by_source, r.approved_by_target, r.source_approved_by, r.target_approved_by,
	r.source_approved_at, r.target_approved_at, r.access_level, r.anonymization_level, r.valid_from,
	r.valid_until, r.sharing_preferences, r.notes, r.created_by, r.last_modified_by, r.revoked_by,
	r.revoked_at, r.created_at, r.updated_at, ` + levelColumns

const relationshipFrom = ` from trust_relationships r join trust_levels l on l.id = r.trust_level_id `

type relationshipRepo struct {
	q querier
}

func scanRelationship(row scanner) (trust.Relationship, error) {
	var (
		rel                                  trust.Relationship
		relType, status, access, anon        string
		sourceBy, targetBy, revokedBy        sql.NullString
		sourceAt, targetAt, until, revokedAt sql.NullTime
		prefs                                []byte
		lvlAccess, lvlAnon                   string
	)
	lvl := &rel.TrustLevel
	err := row.Scan(&rel.ID, &rel.SourceOrganization, &rel.TargetOrganization, &relType, &status,
		&rel.IsBilateral, &rel.ApprovedBySource, &rel.ApprovedByTarget, &sourceBy, &targetBy,
		&sourceAt, &targetAt, &access, &anon, &rel.ValidFrom,
		&until, &prefs, &rel.Notes, &rel.CreatedBy, &rel.LastModifiedBy, &revokedBy,
		&revokedAt, &rel.CreatedAt, &rel.UpdatedAt,
		&lvl.ID, &lvl.Name, &lvl.Level, &lvl.NumericalValue, &lvl.Description,
		&lvlAccess, &lvlAnon, &lvl.IsActive, &lvl.IsSystemDefault, &lvl.CreatedBy, &lvl.CreatedAt, &lvl.UpdatedAt)
	if err != nil {
		return trust.Relationship{}, err
	}
	rel.Type = trust.RelationshipType(relType)
	rel.Status = trust.RelationshipStatus(status)
	rel.AccessLevel = trust.AccessLevel(access)
	rel.AnonymizationLevel = trust.AnonymizationLevel(anon)
	rel.SourceApprovedBy = sourceBy.String
	rel.TargetApprovedBy = targetBy.String
	rel.RevokedBy = revokedBy.String
	rel.SourceApprovedAt = timePtr(sourceAt)
	rel.TargetApprovedAt = timePtr(targetAt)
	rel.ValidUntil = timePtr(until)
	rel.RevokedAt = timePtr(revokedAt)
	rel.ValidFrom = rel.ValidFrom.UTC()
	rel.CreatedAt = rel.CreatedAt.UTC()
	rel.UpdatedAt = rel.UpdatedAt.UTC()
	lvl.DefaultAccessLevel = trust.AccessLevel(lvlAccess)
	lvl.DefaultAnonymizationLevel = trust.AnonymizationLevel(lvlAnon)
	lvl.CreatedAt = lvl.CreatedAt.UTC()
	lvl.UpdatedAt = lvl.UpdatedAt.UTC()
	if rel.SharingPreferences, err = decodeObject(prefs); err != nil {
		return trust.Relationship{}, err
	}
	return rel, nil
}

func (r relationshipRepo) Create(ctx context.Context, rel *trust.Relationship) error {
	prefs, err := encodeJSON(rel.SharingPreferences, "{}")
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		insert into trust_relationships(id, source_organization, target_organization, trust_level_id,
			relationship_type, status, is_bilateral, approved_by_source, approved_by_target,
			source_approved_by, target_approved_by, source_approved_at, target_approved_at,
			access_level, anonymization_level, valid_from, valid_until, sharing_preferences, notes,
			created_by, last_modified_by, revoked_by, revoked_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18::jsonb,$19,$20,$21,$22,$23,$24,$25)
	`, rel.ID, rel.SourceOrganization, rel.TargetOrganization, rel.TrustLevel.ID,
		string(rel.Type), string(rel.Status), rel.IsBilateral, rel.ApprovedBySource, rel.ApprovedByTarget,
		nullIfEmpty(rel.SourceApprovedBy), nullIfEmpty(rel.TargetApprovedBy), nullTime(rel.SourceApprovedAt), nullTime(rel.TargetApprovedAt),
		string(rel.AccessLevel), string(rel.AnonymizationLevel), rel.ValidFrom, nullTime(rel.ValidUntil), string(prefs), rel.Notes,
		rel.CreatedBy, rel.LastModifiedBy, nullIfEmpty(rel.RevokedBy), nullTime(rel.RevokedAt), rel.CreatedAt, rel.UpdatedAt)
	return mapWriteError(err)
}

func (r relationshipRepo) Update(ctx context.Context, rel *trust.Relationship) error {
	prefs, err := encodeJSON(rel.SharingPreferences, "{}")
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		update trust_relationships
		set trust_level_id=$2, status=$3, is_bilateral=$4, approved_by_source=$5, approved_by_target=$6,
			source_approved_by=$7, target_approved_by=$8, source_approved_at=$9, target_approved_at=$10,
			access_level=$11, anonymization_level=$12, valid_until=$13, sharing_preferences=$14::jsonb,
			notes=$15, last_modified_by=$16, revoked_by=$17, revoked_at=$18, updated_at=$19
		where id=$1
	`, rel.ID, rel.TrustLevel.ID, string(rel.Status), rel.IsBilateral, rel.ApprovedBySource, rel.ApprovedByTarget,
		nullIfEmpty(rel.SourceApprovedBy), nullIfEmpty(rel.TargetApprovedBy), nullTime(rel.SourceApprovedAt), nullTime(rel.TargetApprovedAt),
		string(rel.AccessLevel), string(rel.AnonymizationLevel), nullTime(rel.ValidUntil), string(prefs),
		rel.Notes, rel.LastModifiedBy, nullIfEmpty(rel.RevokedBy), nullTime(rel.RevokedAt), rel.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return expectRow(res)
}

func (r relationshipRepo) Get(ctx context.Context, id string) (trust.Relationship, error) {
	rel, err := scanRelationship(r.q.QueryRowContext(ctx, `select `+relationshipColumns+relationshipFrom+`where r.id=$1`, id))
	if err != nil {
		return trust.Relationship{}, mapReadError(err)
	}
	return rel, nil
}

func (r relationshipRepo) GetForUpdate(ctx context.Context, id string) (trust.Relationship, error) {
	rel, err := scanRelationship(r.q.QueryRowContext(ctx, `select `+relationshipColumns+relationshipFrom+`where r.id=$1 for update of r`, id))
	if err != nil {
		return trust.Relationship{}, mapReadError(err)
	}
	return rel, nil
}

func (r relationshipRepo) FindActive(ctx context.Context, source, target string) (trust.Relationship, bool, error) {
	rel, err := scanRelationship(r.q.QueryRowContext(ctx, `select `+relationshipColumns+relationshipFrom+`
		where r.source_organization=$1 and r.target_organization=$2 and r.status='active'`, source, target))
	if err == sql.ErrNoRows {
		return trust.Relationship{}, false, nil
	}
	if err != nil {
		return trust.Relationship{}, false, err
	}
	return rel, true, nil
}

func (r relationshipRepo) ListActiveFrom(ctx context.Context, source string) ([]trust.Relationship, error) {
	return r.list(ctx, `where r.source_organization=$1 and r.status='active'`, source)
}

func (r relationshipRepo) ListActiveBilateralTo(ctx context.Context, target string) ([]trust.Relationship, error) {
	return r.list(ctx, `where r.target_organization=$1 and r.status='active' and r.is_bilateral`, target)
}

func (r relationshipRepo) ListByOrganization(ctx context.Context, org string) ([]trust.Relationship, error) {
	return r.list(ctx, `where r.source_organization=$1 or r.target_organization=$1`, org)
}

func (r relationshipRepo) ListExpiring(ctx context.Context, now time.Time) ([]trust.Relationship, error) {
	return r.list(ctx, `where r.status='active' and r.valid_until is not null and r.valid_until <= $1`, now.UTC())
}

func (r relationshipRepo) list(ctx context.Context, where string, args ...any) ([]trust.Relationship, error) {
	rows, err := r.q.QueryContext(ctx, `select `+relationshipColumns+relationshipFrom+where+` order by r.created_at asc, r.id asc`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}
