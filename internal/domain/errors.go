package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrAnalysisFailed  = errors.New("policy analysis returned error status")
	ErrUnexpectedReply = errors.New("unexpected response from backend")
)

// FetchError: сетевой или HTTP-сбой при обращении к бэкенду.
type FetchError struct {
	Op  string // Какая операция упала, например "refresh_audit_logs"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError: битый JSON или невалидный документ правил.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse: %v", e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SubscriptionError: push-канал не подтвердил подписку.
// В lastError не попадает, наружу видно только состояние соединения.
type SubscriptionError struct {
	Channel string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Channel, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
