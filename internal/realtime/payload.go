package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// Форматы created_at, которые встречаются в row_to_json и в публикациях бэкенда.
// Время без зоны считается UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

type rowPayload struct {
	ID           json.RawMessage     `json:"id"`
	ActionID     json.RawMessage     `json:"action_id"`
	SourceAgent  string              `json:"source_agent"`
	TargetTool   string              `json:"target_tool"`
	Decision     domain.Decision     `json:"decision"`
	Rationale    *string             `json:"rationale"`
	Metadata     domain.RuleDocument `json:"metadata"`
	AppliedRules []string            `json:"applied_rules"`
	CreatedAt    string              `json:"created_at"`
}

// DecodeAuditEntry разбирает payload события вставки. Принимает строку как есть
// или в обертке {"new": {...}} / {"record": {...}}.
func DecodeAuditEntry(payload []byte) (domain.AuditLogEntry, error) {
	var wrapper struct {
		New    json.RawMessage `json:"new"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("decode payload: %w", err)
	}
	switch {
	case len(wrapper.New) > 0:
		payload = wrapper.New
	case len(wrapper.Record) > 0:
		payload = wrapper.Record
	}

	var row rowPayload
	if err := json.Unmarshal(payload, &row); err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("decode row: %w", err)
	}

	e := domain.AuditLogEntry{
		ID:           scalar(row.ID),
		ActionID:     scalar(row.ActionID),
		SourceAgent:  row.SourceAgent,
		TargetTool:   row.TargetTool,
		Decision:     row.Decision,
		Metadata:     row.Metadata,
		AppliedRules: row.AppliedRules,
	}
	if e.ID == "" {
		return domain.AuditLogEntry{}, errors.New("decode row: id is missing")
	}
	if row.Rationale != nil {
		e.Rationale = *row.Rationale
	}
	if e.AppliedRules == nil {
		e.AppliedRules = []string{}
	}

	ts, err := parseTime(row.CreatedAt)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	e.CreatedAt = ts
	return e, nil
}

// scalar превращает JSON-значение id (строка, число или null) в строку.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("decode row: created_at is missing")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("decode row: unrecognized created_at %q", v)
}
