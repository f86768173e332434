package domain

import (
	"encoding/json"
	"time"
)

// RuleDocument: непрозрачный JSON-документ (rules политики, metadata аудита).
// Форму определяет внешний сервис анализа, поэтому фиксированной схемы нет.
type RuleDocument map[string]any

// String достает строковое поле документа, пустая строка если поля нет или тип другой.
func (d RuleDocument) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Ключи документа правил, которые консоль читает и валидирует.
const (
	RuleKeyID                = "rule_id"
	RuleKeyDescription       = "description"
	RuleKeySeverity          = "severity"
	RuleKeyTargetToolRegex   = "target_tool_regex"
	RuleKeyActionOnViolation = "action_on_violation"
	RuleKeyConditionLogic    = "condition_logic"
)

// Severity: уровень серьезности правила.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Policy: строка таблицы policies. Локальная копия в консоли — это кэш,
// который перечитывается после каждой мутации.
type Policy struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Rules    RuleDocument `json:"rules"`
	IsActive bool         `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyPatch: частичное обновление политики. Пустое поле не меняется.
// Rules приходят сырыми из формы редактирования и парсятся при валидации.
type PolicyPatch struct {
	Name     *string         `json:"name,omitempty"`
	Rules    json.RawMessage `json:"rules,omitempty"`
	IsActive *bool           `json:"is_active,omitempty"`
}

// PolicyUpdate: провалидированная форма PolicyPatch, ее получает репозиторий.
type PolicyUpdate struct {
	Name     *string
	Rules    RuleDocument // nil — не менять
	IsActive *bool
}

// Empty: нечего обновлять.
func (u PolicyUpdate) Empty() bool {
	return u.Name == nil && u.Rules == nil && u.IsActive == nil
}

// AnalyzeRequest: тело POST /policy/analyze.
type AnalyzeRequest struct {
	PolicyText         string `json:"policy_text"`
	PolicyName         string `json:"policy_name,omitempty"`
	SourceDocumentType string `json:"source_document_type,omitempty"`
}

// AnalyzeResponse: ответ сервиса Policy Architect.
type AnalyzeResponse struct {
	Status            string `json:"status"` // "success" | "error"
	PolicyID          string `json:"policy_id,omitempty"`
	PolicyName        string `json:"policy_name,omitempty"`
	RulesCreated      int    `json:"rules_created,omitempty"`
	ConflictsDetected int    `json:"conflicts_detected,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Succeeded: сервис вернул status=success.
func (r *AnalyzeResponse) Succeeded() bool {
	return r != nil && r.Status == "success"
}
