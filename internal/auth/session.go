package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServerClaims содержит клеймы токена сессии. Токен — подписанная
// непрозрачная строка; проверяется серверным секретом.
type ServerClaims struct {
	UserName string `json:"user_name"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// SessionIssuer выпускает и проверяет токены сессий.
type SessionIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewSessionIssuer создаёт эмитент токенов с указанным секретом.
// Нулевой срок жизни заменяется на 24 часа.
func NewSessionIssuer(secret []byte, expiry time.Duration) *SessionIssuer {
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &SessionIssuer{secret: secret, expiry: expiry}
}

// Issue выпускает токен сессии для пользователя.
func (s *SessionIssuer) Issue(user *User) (string, error) {
	now := time.Now()
	claims := &ServerClaims{
		UserName: user.Username,
		IsAdmin:  user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   user.Username,
			Issuer:    "mmo-world",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify проверяет токен и возвращает клеймы. Просроченный,
// неподписанный или повреждённый токен трактуется как отсутствующий:
// возвращается nil без ошибки в протокольном смысле.
func (s *SessionIssuer) Verify(tokenString string) *ServerClaims {
	if tokenString == "" {
		return nil
	}
	claims := &ServerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}
	return claims
}
