package auth

import (
	"errors"
	"fmt"
	"time"

	"paper-showcase/internal/domain/session"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long an admin login lasts.
const TokenTTL = 12 * time.Hour

const RoleAdmin = "admin"

// IssueToken signs an admin token continuing session s.
func IssueToken(secret []byte, s session.Session, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("JWT secret not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid":  s.ID,
		"role": RoleAdmin,
		"iat":  now.Unix(),
		"exp":  now.Add(TokenTTL).Unix(),
	})
	return token.SignedString(secret)
}

// ParseToken validates tokenString and returns the session it carries.
func ParseToken(secret []byte, tokenString string) (session.Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return session.Session{}, fmt.Errorf("invalid or expired token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return session.Session{}, errors.New("invalid token claims")
	}
	sid, _ := claims["sid"].(string)
	role, _ := claims["role"].(string)
	return session.WithID(sid, role == RoleAdmin), nil
}
