package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

var ErrEmptyToken = errors.New("empty bearer token")

// RSAValidator проверяет токены, подписанные RS256 ключом консоли.
type RSAValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewRSAValidator(pubKey *rsa.PublicKey) *RSAValidator {
	return &RSAValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// NewRSAValidatorFromPEM: удобная обертка для ключа из конфига.
func NewRSAValidatorFromPEM(data []byte) (*RSAValidator, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return NewRSAValidator(key), nil
}

// VerifyToken реализует TokenValidator. Принимает значение заголовка целиком ("Bearer ...").
func (v *RSAValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, ErrEmptyToken
	}

	claims := &domain.CustomClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}
