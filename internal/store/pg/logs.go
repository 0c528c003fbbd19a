package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tisp.org/internal/trust"
)

const logColumns = `id, action, source_organization, target_organization, trust_relationship_id,
	trust_group_id, user_id, success, failure_reason, details, created_at`

// logRepo only inserts and selects; trust_logs rejects update and delete at the
// database level as well.
type logRepo struct {
	q querier
}

func (r logRepo) Append(ctx context.Context, entry *trust.LogEntry) error {
	details, err := encodeJSON(entry.Details, "{}")
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		insert into trust_logs(id, action, source_organization, target_organization, trust_relationship_id,
			trust_group_id, user_id, success, failure_reason, details, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11)
	`, entry.ID, string(entry.Action), entry.SourceOrganization, nullIfEmpty(entry.TargetOrganization),
		nullIfEmpty(entry.RelationshipID), nullIfEmpty(entry.GroupID), entry.User, entry.Success,
		nullIfEmpty(entry.FailureReason), string(details), entry.Timestamp)
	return mapWriteError(err)
}

func (r logRepo) List(ctx context.Context, filter trust.LogFilter) ([]trust.LogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Organization != "" {
		add("(source_organization = ? or target_organization = ?)", filter.Organization)
	}
	if filter.RelationshipID != "" {
		add("trust_relationship_id = ?", filter.RelationshipID)
	}
	if filter.GroupID != "" {
		add("trust_group_id = ?", filter.GroupID)
	}
	if filter.Action != "" {
		add("action = ?", string(filter.Action))
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", filter.Since.UTC())
	}

	query := `select ` + logColumns + ` from trust_logs`
	if len(conds) > 0 {
		query += ` where ` + strings.Join(conds, " and ")
	}
	query += ` order by created_at desc, id desc`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` limit $%d`, len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trust.LogEntry
	for rows.Next() {
		var (
			e                        trust.LogEntry
			action                   string
			target, rel, grp, reason sql.NullString
			details                  []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.SourceOrganization, &target, &rel,
			&grp, &e.User, &e.Success, &reason, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = trust.Action(action)
		e.TargetOrganization = target.String
		e.RelationshipID = rel.String
		e.GroupID = grp.String
		e.FailureReason = reason.String
		e.Timestamp = e.Timestamp.UTC()
		if e.Details, err = decodeObject(details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
