// Package wtoken signs and verifies the opaque resume tokens identifying
// suspended workflows. A token carries the workflow id and kind; all real
// state lives in Redis, so leaking a token without the signing secret reveals
// nothing and forging one is not possible.
package wtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid is returned for malformed, forged or mismatched tokens.
	ErrTokenInvalid = errors.New("workflow token invalid")
	// ErrTokenExpired is returned for well-formed tokens past their TTL.
	ErrTokenExpired = errors.New("workflow token expired")
)

type claims struct {
	Kind string `json:"knd"`
	jwt.RegisteredClaims
}

// Sign issues an HS256 token for workflow id wid of the given kind.
func Sign(secret []byte, wid, kind string, ttl time.Duration, now time.Time) (string, error) {
	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        wid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// Parse verifies a token and returns the workflow id. The kind must match;
// an enrollment token cannot resume a transfer workflow.
func Parse(secret []byte, token, kind string) (string, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || c.Kind != kind || c.ID == "" {
		return "", ErrTokenInvalid
	}
	return c.ID, nil
}
