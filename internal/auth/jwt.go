package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWeakSecret   = errors.New("secret key must be at least 32 bytes")
)

const issuer = "mmo-physics"

// Claims - утверждения токена оператора
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenAuthority выпускает и проверяет HS256 токены операторов
type TokenAuthority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenAuthority создаёт выпускающего с секретом в base64.
// Пустой секрет - случайный ключ на время жизни процесса.
func NewTokenAuthority(secretB64 string, ttl time.Duration) (*TokenAuthority, error) {
	var secret []byte
	if secretB64 == "" {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(secretB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode secret: %w", err)
		}
		if len(decoded) < 32 {
			return nil, ErrWeakSecret
		}
		secret = decoded
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuthority{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue создаёт токен для оператора
func (a *TokenAuthority) Issue(op Operator) (string, error) {
	now := a.now()
	claims := &Claims{
		Username: op.Username,
		IsAdmin:  op.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   op.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate проверяет подпись и срок действия токена
func (a *TokenAuthority) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret генерирует секрет для конфигурации
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
