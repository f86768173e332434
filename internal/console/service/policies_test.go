package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

const validRules = `{
	"rule_id": "DP-001",
	"description": "No PII in outbound email",
	"severity": "HIGH",
	"target_tool_regex": "^email\\.",
	"condition_logic": "contains_pii(payload)",
	"action_on_violation": "BLOCK"
}`

func TestRefreshPolicies(t *testing.T) {
	store := &fakeStore{policies: []domain.Policy{
		{ID: "p1", Name: "PII", Rules: domain.RuleDocument{"target_tool_regex": "^email\\."}, IsActive: true},
		{ID: "p2", Name: "Slack", Rules: domain.RuleDocument{"target_tool_regex": "slack"}, IsActive: true},
	}}
	a := newTestAggregator(store, nil, nil)

	require.NoError(t, a.RefreshPolicies(context.Background()))
	assert.Len(t, a.Snapshot().Policies, 2)

	matched := a.PoliciesForTool("email.send")
	require.Len(t, matched, 1)
	assert.Equal(t, "p1", matched[0].ID)

	store.policies = store.policies[:1]
	require.NoError(t, a.RefreshPolicies(context.Background()))
	assert.Len(t, a.Policies(), 1, "cache is replaced wholesale")
}

func TestRefreshPolicies_FailureKeepsCache(t *testing.T) {
	store := &fakeStore{policies: []domain.Policy{{ID: "p1", IsActive: true}}}
	a := newTestAggregator(store, nil, nil)
	require.NoError(t, a.RefreshPolicies(context.Background()))

	store.policiesErr = errBackend
	err := a.RefreshPolicies(context.Background())

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Len(t, a.Policies(), 1)
}

func TestCreatePolicy(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	a := newTestAggregator(store, nil, nil, WithNotifier(notifier))

	p, err := a.CreatePolicy(context.Background(), "PII guard", json.RawMessage(validRules))
	require.NoError(t, err)
	assert.Equal(t, "DP-001", p.Rules.String(domain.RuleKeyID))

	assert.Equal(t, int32(1), notifier.calls.Load())
	assert.Equal(t, int32(1), store.policyFetchN.Load())
	assert.Len(t, a.Policies(), 1)
}

func TestCreatePolicy_InvalidRules(t *testing.T) {
	store := &fakeStore{}
	a := newTestAggregator(store, nil, nil)

	_, err := a.CreatePolicy(context.Background(), "bad", json.RawMessage(`{"rule_id":"nope"}`))

	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.RuleKeyID, pe.Field)
	assert.Empty(t, store.inserted)
	assert.Equal(t, err, a.LastError())
}

func TestUpdatePolicy_MalformedJSONDoesNotWrite(t *testing.T) {
	store := &fakeStore{}
	a := newTestAggregator(store, nil, nil)

	err := a.UpdatePolicy(context.Background(), "p1", domain.PolicyPatch{Rules: json.RawMessage(`{"rule_id": `)})

	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, store.updates)

	st := a.Snapshot()
	assert.Equal(t, err, st.LastError)
	assert.False(t, st.IsLoading)
}

func TestUpdatePolicy(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	a := newTestAggregator(store, nil, nil, WithNotifier(notifier))

	active := false
	require.NoError(t, a.UpdatePolicy(context.Background(), "p1", domain.PolicyPatch{
		Rules:    json.RawMessage(validRules),
		IsActive: &active,
	}))

	require.Len(t, store.updates, 1)
	assert.Equal(t, "HIGH", store.updates[0].Rules.String(domain.RuleKeySeverity))
	assert.False(t, *store.updates[0].IsActive)
	assert.Nil(t, store.updates[0].Name)
	assert.Equal(t, int32(1), notifier.calls.Load())
}

func TestUpdatePolicy_NotFound(t *testing.T) {
	store := &fakeStore{updateErr: domain.ErrPolicyNotFound}
	a := newTestAggregator(store, nil, nil)
	name := "renamed"

	err := a.UpdatePolicy(context.Background(), "missing", domain.PolicyPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)

	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestAnalyzePolicy(t *testing.T) {
	store := &fakeStore{}
	api := &fakeAPI{analyze: &domain.AnalyzeResponse{Status: "success", PolicyID: "p-9", RulesCreated: 2}}
	a := newTestAggregator(store, api, nil)

	resp, err := a.AnalyzePolicy(context.Background(), domain.AnalyzeRequest{PolicyText: "No PII to external email"})
	require.NoError(t, err)
	assert.Equal(t, "p-9", resp.PolicyID)
	assert.Equal(t, int32(1), store.policyFetchN.Load(), "policies re-fetched after success")
}

func TestAnalyzePolicy_ErrorStatus(t *testing.T) {
	store := &fakeStore{}
	api := &fakeAPI{analyze: &domain.AnalyzeResponse{Status: "error", Message: "LLM timeout"}}
	a := newTestAggregator(store, api, nil)

	_, err := a.AnalyzePolicy(context.Background(), domain.AnalyzeRequest{PolicyText: "text"})

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, domain.ErrAnalysisFailed)
	assert.Zero(t, store.policyFetchN.Load())
}

func TestIntercept(t *testing.T) {
	api := &fakeAPI{intercept: json.RawMessage(`{"allowed":true}`)}
	a := newTestAggregator(nil, api, nil)

	out, err := a.Intercept(context.Background(), json.RawMessage(`{"source_agent":"a"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"allowed":true}`, string(out))

	_, err = a.Intercept(context.Background(), json.RawMessage(`{`))
	var pe *domain.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestCreatePolicy_RefreshFailureKeepsSuccess(t *testing.T) {
	// Строка вставляется, а перечитывание кэша после нее падает
	store := &fakeStore{policiesErr: errBackend}
	a := newTestAggregator(store, nil, nil)

	p, err := a.CreatePolicy(context.Background(), "PII", json.RawMessage(validRules))
	require.NoError(t, err, "insert succeeded, caller must not retry it")
	require.NotNil(t, p)
	assert.Equal(t, "p-new", p.ID)
	assert.Len(t, store.inserted, 1)

	st := a.Snapshot()
	var fe *domain.FetchError
	require.ErrorAs(t, st.LastError, &fe)
	assert.ErrorIs(t, st.LastError, errBackend)
	assert.False(t, st.IsLoading)
}

func TestUpdatePolicy_RefreshFailureKeepsSuccess(t *testing.T) {
	store := &fakeStore{policiesErr: errBackend}
	a := newTestAggregator(store, nil, nil)
	name := "renamed"

	require.NoError(t, a.UpdatePolicy(context.Background(), "p1", domain.PolicyPatch{Name: &name}))
	assert.Len(t, store.updates, 1)
	assert.ErrorIs(t, a.LastError(), errBackend)
}

func TestAnalyzePolicy_RefreshFailureKeepsSuccess(t *testing.T) {
	store := &fakeStore{policiesErr: errBackend}
	api := &fakeAPI{analyze: &domain.AnalyzeResponse{Status: "success", PolicyID: "p-9"}}
	a := newTestAggregator(store, api, nil)

	resp, err := a.AnalyzePolicy(context.Background(), domain.AnalyzeRequest{PolicyText: "No PII"})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.ErrorIs(t, a.LastError(), errBackend)
}
