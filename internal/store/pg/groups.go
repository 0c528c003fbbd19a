package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"tisp.org/internal/trust"
)

const groupColumns = `g.id, g.name, g.description, g.group_type, g.is_public, g.requires_approval,
	g.administrators, g.group_policies, g.is_active, g.created_by, g.created_at, g.updated_at, ` + levelColumns

const groupFrom = ` from trust_groups g join trust_levels l on l.id = g.default_trust_level_id `

type groupRepo struct {
	q querier
}

func scanGroup(row scanner) (trust.Group, error) {
	var (
		g                  trust.Group
		groupType          string
		admins, policies   []byte
		lvlAccess, lvlAnon string
	)
	lvl := &g.DefaultTrustLevel
	err := row.Scan(&g.ID, &g.Name, &g.Description, &groupType, &g.IsPublic, &g.RequiresApproval,
		&admins, &policies, &g.IsActive, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt,
		&lvl.ID, &lvl.Name, &lvl.Level, &lvl.NumericalValue, &lvl.Description,
		&lvlAccess, &lvlAnon, &lvl.IsActive, &lvl.IsSystemDefault, &lvl.CreatedBy, &lvl.CreatedAt, &lvl.UpdatedAt)
	if err != nil {
		return trust.Group{}, err
	}
	g.Type = trust.GroupType(groupType)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	lvl.DefaultAccessLevel = trust.AccessLevel(lvlAccess)
	lvl.DefaultAnonymizationLevel = trust.AnonymizationLevel(lvlAnon)
	lvl.CreatedAt = lvl.CreatedAt.UTC()
	lvl.UpdatedAt = lvl.UpdatedAt.UTC()
	g.Administrators = []string{}
	if len(admins) > 0 {
		if err := json.Unmarshal(admins, &g.Administrators); err != nil {
			return trust.Group{}, fmt.Errorf("decode administrators: %w", err)
		}
	}
	if g.Policies, err = decodeObject(policies); err != nil {
		return trust.Group{}, err
	}
	return g, nil
}

func encodeGroup(group *trust.Group) (admins, policies []byte, err error) {
	if admins, err = encodeJSON(group.Administrators, "[]"); err != nil {
		return nil, nil, err
	}
	if policies, err = encodeJSON(group.Policies, "{}"); err != nil {
		return nil, nil, err
	}
	return admins, policies, nil
}

func (r groupRepo) Create(ctx context.Context, group *trust.Group) error {
	admins, policies, err := encodeGroup(group)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		insert into trust_groups(id, name, description, group_type, is_public, requires_approval,
			default_trust_level_id, administrators, group_policies, is_active, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9::jsonb,$10,$11,$12,$13)
	`, group.ID, group.Name, group.Description, string(group.Type), group.IsPublic, group.RequiresApproval,
		group.DefaultTrustLevel.ID, string(admins), string(policies), group.IsActive, group.CreatedBy, group.CreatedAt, group.UpdatedAt)
	return mapWriteError(err)
}

func (r groupRepo) Update(ctx context.Context, group *trust.Group) error {
	admins, policies, err := encodeGroup(group)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		update trust_groups
		set name=$2, description=$3, group_type=$4, is_public=$5, requires_approval=$6,
			default_trust_level_id=$7, administrators=$8::jsonb, group_policies=$9::jsonb,
			is_active=$10, updated_at=$11
		where id=$1
	`, group.ID, group.Name, group.Description, string(group.Type), group.IsPublic, group.RequiresApproval,
		group.DefaultTrustLevel.ID, string(admins), string(policies), group.IsActive, group.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return expectRow(res)
}

func (r groupRepo) Get(ctx context.Context, id string) (trust.Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, `select `+groupColumns+groupFrom+`where g.id=$1`, id))
	if err != nil {
		return trust.Group{}, mapReadError(err)
	}
	return g, nil
}

func (r groupRepo) GetForUpdate(ctx context.Context, id string) (trust.Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, `select `+groupColumns+groupFrom+`where g.id=$1 for update of g`, id))
	if err != nil {
		return trust.Group{}, mapReadError(err)
	}
	return g, nil
}

func (r groupRepo) ListPublic(ctx context.Context) ([]trust.Group, error) {
	rows, err := r.q.QueryContext(ctx, `select `+groupColumns+groupFrom+`
		where g.is_active and g.is_public
		order by g.created_at asc, g.id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
