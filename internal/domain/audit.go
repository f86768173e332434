package domain

import "time"

// Decision: итог внешней проверки действия агента.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionBlock Decision = "BLOCK"
	DecisionFlag  Decision = "FLAG"
)

// Valid сообщает, входит ли значение в ограничение CHECK колонки audit_logs.decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionBlock, DecisionFlag:
		return true
	}
	return false
}

// AuditLogEntry: строка audit_logs. Создается только пайплайном перехвата,
// консоль ее никогда не меняет и не удаляет.
type AuditLogEntry struct {
	ID           string       `json:"id"`
	ActionID     string       `json:"action_id"`
	SourceAgent  string       `json:"source_agent"`
	TargetTool   string       `json:"target_tool"`
	Decision     Decision     `json:"decision"`
	Rationale    string       `json:"rationale"`
	Metadata     RuleDocument `json:"metadata,omitempty"`
	AppliedRules []string     `json:"applied_rules"`

	// Проставляется бэкендом. Порядок прихода на клиент может не совпадать с порядком вставки.
	CreatedAt time.Time `json:"created_at"`
}
