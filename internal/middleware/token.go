package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/studyhub/internal/model"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// PrincipalClaims: содержимое токена принципала. Токены выпускает внешний сервис
// учётных записей; API только проверяет подпись HS256.
type PrincipalClaims struct {
	UniversityID string `json:"university_id"`
	Name         string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SignPrincipal выпускает токен (для services/devtoken и тестов).
func SignPrincipal(secret []byte, p model.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PrincipalClaims{
		UniversityID: p.UniversityID,
		Name:         p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign principal token: %w", err)
	}
	return s, nil
}

// ParsePrincipal проверяет подпись и срок действия токена.
func ParsePrincipal(secret []byte, tokenStr string) (model.Principal, error) {
	var claims PrincipalClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return model.Principal{UserID: claims.Subject, UniversityID: claims.UniversityID, Name: claims.Name}, nil
}
