package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/policy"
)

// RefreshPolicies перечитывает активные политики и заменяет кэш целиком.
func (a *Aggregator) RefreshPolicies(ctx context.Context) error {
	a.begin()
	list, err := a.store.FetchActivePolicies(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
	if err != nil {
		return a.failLocked("refresh_policies", err)
	}

	a.policies.Replace(list)
	return nil
}

// PoliciesForTool: активные политики, чей target_tool_regex подходит под инструмент.
func (a *Aggregator) PoliciesForTool(tool string) []domain.Policy {
	return a.policies.ForTool(tool)
}

func (a *Aggregator) Policies() []domain.Policy {
	return a.policies.List()
}

// CreatePolicy валидирует правила, сохраняет активную политику и перечитывает кэш.
func (a *Aggregator) CreatePolicy(ctx context.Context, name string, rules json.RawMessage) (*domain.Policy, error) {
	a.begin()

	doc, err := policy.ParseRules(rules)
	if err == nil && name == "" {
		err = &domain.ParseError{Field: "name", Err: fmt.Errorf("must not be empty")}
	}
	if err != nil {
		return nil, a.fail("create_policy", err)
	}

	p, err := a.store.InsertPolicy(ctx, name, doc)
	if err != nil {
		return nil, a.fail("create_policy", err)
	}

	a.logger.Info("policy created", zap.String("id", p.ID), zap.String("rule_id", doc.String(domain.RuleKeyID)))
	a.afterPolicyMutation(ctx)
	return p, nil
}

// UpdatePolicy применяет частичное обновление. Битые или невалидные правила дают
// ParseError в lastError, запись в хранилище при этом не выполняется.
func (a *Aggregator) UpdatePolicy(ctx context.Context, id string, patch domain.PolicyPatch) error {
	a.begin()

	upd := domain.PolicyUpdate{Name: patch.Name, IsActive: patch.IsActive}
	if len(patch.Rules) > 0 {
		doc, err := policy.ParseRules(patch.Rules)
		if err != nil {
			return a.fail("update_policy", err)
		}
		upd.Rules = doc
	}
	if upd.Name != nil && *upd.Name == "" {
		return a.fail("update_policy", &domain.ParseError{Field: "name", Err: fmt.Errorf("must not be empty")})
	}

	if err := a.store.UpdatePolicy(ctx, id, upd); err != nil {
		return a.fail("update_policy", err)
	}

	a.logger.Info("policy updated", zap.String("id", id))
	a.afterPolicyMutation(ctx)
	return nil
}

// AnalyzePolicy отправляет текст политики в Policy Architect. При status=success
// кэш перечитывается, status=error считается FetchError.
func (a *Aggregator) AnalyzePolicy(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	a.begin()

	if req.PolicyText == "" {
		return nil, a.fail("analyze_policy", &domain.ParseError{Field: "policy_text", Err: fmt.Errorf("must not be empty")})
	}

	resp, err := a.api.AnalyzePolicy(ctx, req)
	if err != nil {
		return nil, a.fail("analyze_policy", err)
	}
	if !resp.Succeeded() {
		err := fmt.Errorf("%w: %s", domain.ErrAnalysisFailed, resp.Message)
		return resp, a.fail("analyze_policy", err)
	}

	a.logger.Info("policy analyzed",
		zap.String("policy_id", resp.PolicyID),
		zap.Int("rules_created", resp.RulesCreated),
		zap.Int("conflicts", resp.ConflictsDetected))
	a.afterPolicyMutation(ctx)
	return resp, nil
}

// Intercept пробрасывает запрос агента в движок решений как есть.
func (a *Aggregator) Intercept(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	a.begin()

	if !json.Valid(payload) {
		return nil, a.fail("intercept", &domain.ParseError{Field: "body", Err: fmt.Errorf("invalid JSON")})
	}

	out, err := a.api.Intercept(ctx, payload)
	if err != nil {
		return nil, a.fail("intercept", err)
	}

	a.mu.Lock()
	a.loading = false
	a.mu.Unlock()
	return out, nil
}

// afterPolicyMutation: сигнал шлюзам и перечитывание кэша. Мутация к этому
// моменту уже записана, поэтому ее результат отсюда не меняется: сбой уведомления
// только логируется, сбой перечитывания остается в lastError.
func (a *Aggregator) afterPolicyMutation(ctx context.Context) {
	if a.notifier != nil {
		if err := a.notifier.NotifyPolicyUpdate(ctx); err != nil {
			a.logger.Warn("policy update notification failed", zap.Error(err))
		}
	}
	if err := a.RefreshPolicies(ctx); err != nil {
		a.logger.Warn("policy cache refresh after mutation failed", zap.Error(err))
	}
}

func (a *Aggregator) fail(op string, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
	return a.failLocked(op, err)
}
