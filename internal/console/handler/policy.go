package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// PolicyService Описываем, что нам нужно от агрегатора
type PolicyService interface {
	Policies() []domain.Policy
	RefreshPolicies(ctx context.Context) error
	CreatePolicy(ctx context.Context, name string, rules json.RawMessage) (*domain.Policy, error)
	UpdatePolicy(ctx context.Context, id string, patch domain.PolicyPatch) error
	AnalyzePolicy(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalyzeResponse, error)
	PoliciesForTool(tool string) []domain.Policy
	Intercept(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

type PolicyHandler struct {
	service PolicyService
}

func NewPolicyHandler(s PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// List возвращает кэш активных политик. ?refresh=true перечитывает его перед ответом.
// GET /v1/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.service.RefreshPolicies(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.service.Policies())
}

type createPolicyRequest struct {
	Name  string          `json:"name"`
	Rules json.RawMessage `json:"rules"`
}

// Create создает активную политику из документа правил.
// POST /v1/policies
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &domain.ParseError{Field: "body", Err: err})
		return
	}

	p, err := h.service.CreatePolicy(r.Context(), strings.TrimSpace(req.Name), req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Update: частичное обновление name / rules / is_active.
// PUT /v1/policies/{id}
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, &domain.ParseError{Field: "id", Err: errors.New("policy ID is required")})
		return
	}

	var patch domain.PolicyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, &domain.ParseError{Field: "body", Err: err})
		return
	}

	if err := h.service.UpdatePolicy(r.Context(), id, patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Analyze отправляет текст политики в Policy Architect.
// POST /v1/policies/analyze
func (h *PolicyHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req domain.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &domain.ParseError{Field: "body", Err: err})
		return
	}

	resp, err := h.service.AnalyzePolicy(r.Context(), req)
	if err != nil {
		if resp != nil {
			// status=error от сервиса анализа отдаем клиенту как есть
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Match: какие активные политики применяются к инструменту.
// GET /v1/policies/match?tool=...
func (h *PolicyHandler) Match(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	if tool == "" {
		writeError(w, &domain.ParseError{Field: "tool", Err: errors.New("query parameter is required")})
		return
	}
	writeJSON(w, http.StatusOK, h.service.PoliciesForTool(tool))
}

// Intercept пробрасывает запрос агента в движок решений.
// POST /v1/intercept
func (h *PolicyHandler) Intercept(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, &domain.ParseError{Field: "body", Err: err})
		return
	}

	out, err := h.service.Intercept(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
