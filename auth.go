package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errNoBearerToken = errors.New("missing bearer token")

// authenticatePlayer verifies the Authorization header of a websocket
// handshake and resolves the player id from the token subject. The token
// itself is issued by the account service; this side only checks the
// HMAC signature and standard claims.
func authenticatePlayer(cfg *Config, r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return uuid.Nil, errNoBearerToken
	}

	token, err := jwt.ParseWithClaims(
		strings.TrimPrefix(header, prefix),
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			return []byte(cfg.secretKey), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("verifying bearer token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, errors.New("bearer token has no subject")
	}

	playerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing token subject: %w", err)
	}

	return playerID, nil
}
