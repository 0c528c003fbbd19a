package pg

import (
	"context"
	"database/sql"
	"strings"

	"tisp.org/internal/trust"
)

const levelColumns = `l.id, l.name, l.level, l.numerical_value, l.description,
	l.default_access_level, l.default_anonymization_level, l.is_active,
	l.is_system_default, l.created_by, l.created_at, l.updated_at`

type levelRepo struct {
	q querier
}

func scanLevel(row scanner, dest *trust.TrustLevel) error {
	var access, anon string
	if err := row.Scan(&dest.ID, &dest.Name, &dest.Level, &dest.NumericalValue, &dest.Description,
		&access, &anon, &dest.IsActive, &dest.IsSystemDefault, &dest.CreatedBy, &dest.CreatedAt, &dest.UpdatedAt); err != nil {
		return err
	}
	dest.DefaultAccessLevel = trust.AccessLevel(access)
	dest.DefaultAnonymizationLevel = trust.AnonymizationLevel(anon)
	dest.CreatedAt = dest.CreatedAt.UTC()
	dest.UpdatedAt = dest.UpdatedAt.UTC()
	return nil
}

func (r levelRepo) Create(ctx context.Context, level *trust.TrustLevel) error {
	_, err := r.q.ExecContext(ctx, `
		insert into trust_levels(id, name, level, numerical_value, description,
			default_access_level, default_anonymization_level, is_active, is_system_default,
			created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, level.ID, level.Name, level.Level, level.NumericalValue, level.Description,
		string(level.DefaultAccessLevel), string(level.DefaultAnonymizationLevel), level.IsActive, level.IsSystemDefault,
		level.CreatedBy, level.CreatedAt, level.UpdatedAt)
	return mapWriteError(err)
}

func (r levelRepo) Update(ctx context.Context, level *trust.TrustLevel) error {
	res, err := r.q.ExecContext(ctx, `
		update trust_levels
		set name=$2, level=$3, numerical_value=$4, description=$5,
			default_access_level=$6, default_anonymization_level=$7,
			is_active=$8, is_system_default=$9, updated_at=$10
		where id=$1
	`, level.ID, level.Name, level.Level, level.NumericalValue, level.Description,
		string(level.DefaultAccessLevel), string(level.DefaultAnonymizationLevel),
		level.IsActive, level.IsSystemDefault, level.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return expectRow(res)
}

func (r levelRepo) Get(ctx context.Context, id string) (trust.TrustLevel, error) {
	var level trust.TrustLevel
	row := r.q.QueryRowContext(ctx, `select `+levelColumns+` from trust_levels l where l.id=$1`, id)
	if err := scanLevel(row, &level); err != nil {
		return trust.TrustLevel{}, mapReadError(err)
	}
	return level, nil
}

func (r levelRepo) GetByName(ctx context.Context, name string) (trust.TrustLevel, bool, error) {
	var level trust.TrustLevel
	row := r.q.QueryRowContext(ctx, `select `+levelColumns+` from trust_levels l where lower(l.name)=$1`,
		strings.ToLower(strings.TrimSpace(name)))
	err := scanLevel(row, &level)
	if err == sql.ErrNoRows {
		return trust.TrustLevel{}, false, nil
	}
	if err != nil {
		return trust.TrustLevel{}, false, err
	}
	return level, true, nil
}

func (r levelRepo) ListActive(ctx context.Context) ([]trust.TrustLevel, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+levelColumns+`
		from trust_levels l
		where l.is_active
		order by l.numerical_value asc, l.name asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.TrustLevel
	for rows.Next() {
		var level trust.TrustLevel
		if err := scanLevel(rows, &level); err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, rows.Err()
}
