package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

const auditColumns = `id::text, COALESCE(action_id::text, ''), source_agent, target_tool, decision,
	COALESCE(rationale, ''), COALESCE(metadata, '{}'::jsonb), COALESCE(applied_rules, '{}'::text[]), created_at`

// FetchAuditLogs отдает limit последних записей, новые первыми.
func (s *Store) FetchAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit logs: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.AuditLogEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

func scanAuditEntry(row pgx.Row) (domain.AuditLogEntry, error) {
	var (
		e        domain.AuditLogEntry
		decision string
		metadata []byte
	)
	err := row.Scan(
		&e.ID, &e.ActionID, &e.SourceAgent, &e.TargetTool, &decision,
		&e.Rationale, &metadata, &e.AppliedRules, &e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("postgres: failed to scan audit log: %w", err)
	}

	e.Decision = domain.Decision(decision)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("postgres: audit log %s has malformed metadata: %w", e.ID, err)
		}
	}
	return e, nil
}
