package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// Счетчики для резервного расчета метрик. Каждый — отдельный head-only запрос,
// строки не возвращаются.

// CountAuditLogs: COUNT по audit_logs. Пустое решение — все строки.
func (s *Store) CountAuditLogs(ctx context.Context, decision domain.Decision) (int64, error) {
	var (
		count int64
		err   error
	)
	if decision == "" {
		err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&count)
	} else {
		err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE decision = $1`, string(decision)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count audit logs (decision=%q): %w", decision, err)
	}
	return count, nil
}

// CountActivePolicies: COUNT по policies с is_active = true.
func (s *Store) CountActivePolicies(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM policies WHERE is_active = true`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count active policies: %w", err)
	}
	return count, nil
}
