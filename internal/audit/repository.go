package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"confhub/internal/constants"
	"confhub/internal/store"
)

// Repository persists the audit trail in PostgreSQL. It satisfies the
// store's AuditRecorder.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, rec *store.AuditRecord) error {
	prevJSON, err := marshalValue(rec.PreviousValue)
	if err != nil {
		return err
	}
	currJSON, err := marshalValue(rec.CurrentValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (tenant_id, config_type, context, resource_id, action, changed_by, version, previous_value, current_value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		rec.TenantID,
		rec.ConfigType,
		rec.Context,
		rec.ResourceID,
		rec.Action,
		rec.ChangedBy,
		rec.Version,
		prevJSON,
		currJSON,
		rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, query ListQuery) ([]Log, error) {
	if query.Limit <= 0 || query.Limit > constants.MaxLimit {
		query.Limit = constants.DefaultLimit
	}

	sqlQuery := `
		SELECT id, tenant_id, config_type, context, resource_id, action, changed_by, version, previous_value, current_value, occurred_at
		FROM audit_logs
		WHERE tenant_id = $1`
	args := []interface{}{query.TenantID}

	if query.ConfigType != "" {
		args = append(args, query.ConfigType)
		sqlQuery += fmt.Sprintf(" AND config_type = $%d", len(args))
	}
	if query.ResourceID != "" {
		args = append(args, query.ResourceID)
		sqlQuery += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}

	args = append(args, query.Limit)
	sqlQuery += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var log Log
		var prevJSON, currJSON sql.NullString
		if err := rows.Scan(
			&log.ID,
			&log.TenantID,
			&log.ConfigType,
			&log.Context,
			&log.ResourceID,
			&log.Action,
			&log.ChangedBy,
			&log.Version,
			&prevJSON,
			&currJSON,
			&log.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if prevJSON.Valid && prevJSON.String != "" {
			_ = json.Unmarshal([]byte(prevJSON.String), &log.PreviousValue)
		}
		if currJSON.Valid && currJSON.String != "" {
			_ = json.Unmarshal([]byte(currJSON.String), &log.CurrentValue)
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}

func marshalValue(value map[string]interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit value: %w", err)
	}
	return string(data), nil
}
