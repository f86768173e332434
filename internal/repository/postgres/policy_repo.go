package postgres

/*
Файл policy_repo.go — чтение и запись таблицы policies.
Консоль держит у себя только кэш активных политик и после каждой мутации
перечитывает его целиком, поэтому здесь нет выборок по одному ID.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// FetchActivePolicies возвращает все политики с is_active = true, новые первыми.
func (s *Store) FetchActivePolicies(ctx context.Context) ([]domain.Policy, error) {
	query := `
		SELECT id::text, name, COALESCE(rules, '{}'::jsonb), is_active, created_at, COALESCE(updated_at, created_at)
		FROM policies
		WHERE is_active = true
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query policies: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Policy, 0)
	for rows.Next() {
		var (
			p     domain.Policy
			rules []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &rules, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		if err := json.Unmarshal(rules, &p.Rules); err != nil {
			return nil, fmt.Errorf("postgres: policy %s has malformed rules: %w", p.ID, err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

// InsertPolicy создает активную политику. ID генерируется на нашей стороне,
// created_at/updated_at проставляет база.
func (s *Store) InsertPolicy(ctx context.Context, name string, rules domain.RuleDocument) (*domain.Policy, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to encode rules: %w", err)
	}

	p := &domain.Policy{
		ID:       uuid.New().String(),
		Name:     name,
		Rules:    rules,
		IsActive: true,
	}

	query := `
		INSERT INTO policies (id, name, rules, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, true, NOW(), NOW())
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query, p.ID, p.Name, raw).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return p, nil
}

// UpdatePolicy меняет только заданные поля одной строки по id.
func (s *Store) UpdatePolicy(ctx context.Context, id string, upd domain.PolicyUpdate) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Rules != nil {
		raw, err := json.Marshal(upd.Rules)
		if err != nil {
			return fmt.Errorf("postgres: failed to encode rules: %w", err)
		}
		add("rules", raw)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE policies SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy %s: %w", id, domain.ErrPolicyNotFound)
	}
	return nil
}
