package policy

/*
Файл rules.go проверяет документ правил перед записью в policies.
Документ формирует внешний Policy Architect, но правки из консоли идут мимо него,
поэтому консоль сама отсекает битый JSON и опасную condition_logic.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

var (
	ruleIDPattern = regexp.MustCompile(`^[A-Z]{2}-\d{3}$`) // например, DP-001

	// condition_logic исполняется движком, эти подстроки там запрещены
	dangerousKeywords = []string{"import", "exec", "eval", "__", "open", "os.", "sys.", "subprocess"}
)

// ParseRules разбирает сырой JSON из формы редактирования и валидирует его.
func ParseRules(raw []byte) (domain.RuleDocument, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &domain.ParseError{Field: "rules", Err: errors.New("empty document")}
	}

	var doc domain.RuleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ParseError{Field: "rules", Err: err}
	}
	if doc == nil {
		return nil, &domain.ParseError{Field: "rules", Err: errors.New("document must be a JSON object")}
	}

	if err := ValidateRules(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateRules проверяет обязательные поля документа. Неизвестные поля не трогаем.
func ValidateRules(doc domain.RuleDocument) error {
	if doc == nil {
		return &domain.ParseError{Field: "rules", Err: errors.New("document is missing")}
	}

	ruleID := doc.String(domain.RuleKeyID)
	if !ruleIDPattern.MatchString(ruleID) {
		return fieldErr(domain.RuleKeyID, "must match %s, got %q", ruleIDPattern, ruleID)
	}

	if _, ok := doc[domain.RuleKeyDescription]; ok {
		desc := doc.String(domain.RuleKeyDescription)
		if l := len(desc); l < 10 || l > 500 {
			return fieldErr(domain.RuleKeyDescription, "length must be 10..500, got %d", l)
		}
	}

	re := doc.String(domain.RuleKeyTargetToolRegex)
	if l := len(re); l < 1 || l > 200 {
		return fieldErr(domain.RuleKeyTargetToolRegex, "length must be 1..200, got %d", l)
	}
	if _, err := regexp.Compile(re); err != nil {
		return &domain.ParseError{Field: domain.RuleKeyTargetToolRegex, Err: err}
	}

	cond := doc.String(domain.RuleKeyConditionLogic)
	if l := len(cond); l < 1 || l > 1000 {
		return fieldErr(domain.RuleKeyConditionLogic, "length must be 1..1000, got %d", l)
	}
	for _, kw := range dangerousKeywords {
		if strings.Contains(cond, kw) {
			return fieldErr(domain.RuleKeyConditionLogic, "contains dangerous keyword %q", kw)
		}
	}

	switch domain.Severity(doc.String(domain.RuleKeySeverity)) {
	case domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow:
	default:
		return fieldErr(domain.RuleKeySeverity, "must be HIGH, MEDIUM or LOW")
	}

	switch domain.Decision(doc.String(domain.RuleKeyActionOnViolation)) {
	case domain.DecisionBlock, domain.DecisionFlag:
	default:
		return fieldErr(domain.RuleKeyActionOnViolation, "must be BLOCK or FLAG")
	}

	return nil
}

func fieldErr(field, format string, args ...any) error {
	return &domain.ParseError{Field: field, Err: fmt.Errorf(format, args...)}
}
