package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrBadExportToken is returned when an export confirmation token is missing,
// malformed, expired, or issued to a different user.
var ErrBadExportToken = errors.New("service: invalid export confirmation token")

const exportPurpose = "key-export"

// exportClaims is the confirmation token payload. The purpose claim keeps a
// token minted here from being replayed against any future token-guarded
// operation.
type exportClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// exportTokens mints and verifies the short-lived tokens that gate private
// key export. Export is a two-step flow: the user first requests a token,
// then presents it back to confirm they really want the key on screen.
type exportTokens struct {
	secret []byte
	ttl    time.Duration
}

func newExportTokens(secret []byte, ttl time.Duration) *exportTokens {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &exportTokens{secret: secret, ttl: ttl}
}

func (e *exportTokens) mint(userID string) (string, error) {
	now := time.Now()
	claims := &exportClaims{
		Purpose: exportPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
	if err != nil {
		return "", fmt.Errorf("sign export token: %w", err)
	}
	return signed, nil
}

func (e *exportTokens) verify(userID, tokenStr string) error {
	claims := &exportClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadExportToken, err)
	}
	if !token.Valid || claims.Purpose != exportPurpose || claims.Subject != userID {
		return ErrBadExportToken
	}
	return nil
}
