package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Scope, дающий право на мутации политик и ручной перехват из консоли.
const ScopePolicyWrite = "policy.write"

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "policy.write": true
	jwt.RegisteredClaims
}

// HasScope: admin покрывает любой scope.
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes["admin"] || c.Scopes[scope]
}
