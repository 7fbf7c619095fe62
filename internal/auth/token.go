// Package auth выпускает и проверяет токены доступа.
// Роль разбирается один раз при проверке токена и дальше передается как models.Session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"commission-engine/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken возвращается для отсутствующего, просроченного или поддельного токена
var ErrInvalidToken = errors.New("недействительный токен доступа")

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer подписывает токены HS256
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer создает новый выпускающий токены
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue выпускает токен для субъекта с заданной ролью
func (i *Issuer) Issue(subjectID string, role models.Role) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// Parse проверяет токен и возвращает сессию
func (i *Issuer) Parse(tokenString string) (models.Session, error) {
	if tokenString == "" {
		return models.Session{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return models.Session{}, ErrInvalidToken
	}

	return models.Session{
		SubjectID: c.Subject,
		Role:      models.ParseRole(c.Role),
	}, nil
}
