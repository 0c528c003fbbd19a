package pg

import (
	"context"
	"database/sql"

	"tisp.org/internal/trust"
)

const membershipColumns = `m.id, m.trust_group_id, m.organization, m.membership_type, m.is_active,
	m.invited_by, m.approved_by, m.joined_at, m.left_at, m.created_at`

// currentMembership mirrors the partial unique index on trust_group_memberships.
const currentMembership = `(m.is_active or (m.membership_type = 'pending' and m.left_at is null))`

type membershipRepo struct {
	q querier
}

func scanMembership(row scanner) (trust.Membership, error) {
	var (
		m                   trust.Membership
		memberType          string
		invitedBy, approved sql.NullString
		joinedAt, leftAt    sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.GroupID, &m.OrganizationID, &memberType, &m.IsActive,
		&invitedBy, &approved, &joinedAt, &leftAt, &m.CreatedAt); err != nil {
		return trust.Membership{}, err
	}
	m.Type = trust.MembershipType(memberType)
	m.InvitedBy = invitedBy.String
	m.ApprovedBy = approved.String
	m.JoinedAt = timePtr(joinedAt)
	m.LeftAt = timePtr(leftAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (r membershipRepo) Create(ctx context.Context, m *trust.Membership) error {
	_, err := r.q.ExecContext(ctx, `
		insert into trust_group_memberships(id, trust_group_id, organization, membership_type, is_active,
			invited_by, approved_by, joined_at, left_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.GroupID, m.OrganizationID, string(m.Type), m.IsActive,
		nullIfEmpty(m.InvitedBy), nullIfEmpty(m.ApprovedBy), nullTime(m.JoinedAt), nullTime(m.LeftAt), m.CreatedAt)
	return mapWriteError(err)
}

func (r membershipRepo) Update(ctx context.Context, m *trust.Membership) error {
	res, err := r.q.ExecContext(ctx, `
		update trust_group_memberships
		set membership_type=$2, is_active=$3, invited_by=$4, approved_by=$5, joined_at=$6, left_at=$7
		where id=$1
	`, m.ID, string(m.Type), m.IsActive, nullIfEmpty(m.InvitedBy), nullIfEmpty(m.ApprovedBy), nullTime(m.JoinedAt), nullTime(m.LeftAt))
	if err != nil {
		return mapWriteError(err)
	}
	return expectRow(res)
}

func (r membershipRepo) FindCurrent(ctx context.Context, groupID, org string) (trust.Membership, bool, error) {
	return r.findCurrent(ctx, ``, groupID, org)
}

func (r membershipRepo) FindCurrentForUpdate(ctx context.Context, groupID, org string) (trust.Membership, bool, error) {
	return r.findCurrent(ctx, ` for update`, groupID, org)
}

func (r membershipRepo) findCurrent(ctx context.Context, lock, groupID, org string) (trust.Membership, bool, error) {
	m, err := scanMembership(r.q.QueryRowContext(ctx, `
		select `+membershipColumns+`
		from trust_group_memberships m
		where m.trust_group_id=$1 and m.organization=$2 and `+currentMembership+lock, groupID, org))
	if err == sql.ErrNoRows {
		return trust.Membership{}, false, nil
	}
	if err != nil {
		return trust.Membership{}, false, err
	}
	return m, true, nil
}

func (r membershipRepo) ListActiveByOrganization(ctx context.Context, org string) ([]trust.Membership, error) {
	return r.list(ctx, `m.organization=$1`, org)
}

func (r membershipRepo) ListActiveByGroup(ctx context.Context, groupID string) ([]trust.Membership, error) {
	return r.list(ctx, `m.trust_group_id=$1`, groupID)
}

func (r membershipRepo) list(ctx context.Context, where string, arg string) ([]trust.Membership, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+membershipColumns+`
		from trust_group_memberships m
		where m.is_active and `+where+`
		order by m.created_at asc, m.id asc`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
