package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/wallute/walletsync/internal/session"
)

var errInvalidToken = errors.New("invalid token")

// IdentityClaims are issued by the sign-in service. Subject is the account id.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.StandardClaims
}

func (c *IdentityClaims) Identity() session.Identity {
	return session.Identity{
		AccountID:   c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
	}
}

func NewToken(id session.Identity, ttl time.Duration) (string, error) {
	claims := IdentityClaims{
		Email: id.Email,
		Name:  id.DisplayName,
		StandardClaims: jwt.StandardClaims{
			Subject:  id.AccountID,
			IssuedAt: time.Now().Unix(),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AuthSecret))
}

func ParseToken(token string) (*IdentityClaims, error) {
	var claims IdentityClaims
	t, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AuthSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !t.Valid || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return &claims, nil
}

func NewSecret() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
