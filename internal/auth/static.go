package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// StaticVerifier accepts a single fixed bearer token and maps it to a
// configured identity. It exists for end-to-end test harnesses that cannot
// perform a login flow; never enable it in production.
type StaticVerifier struct {
	token  string
	claims Claims
}

// NewStaticVerifier builds a verifier for the given token and identity.
// The identity is granted all permissions.
func NewStaticVerifier(token, username, role string) *StaticVerifier {
	return &StaticVerifier{
		token: token,
		claims: Claims{
			UserID:      0,
			Username:    username,
			Role:        role,
			Permissions: []string{"*"},
		},
	}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return nil, fmt.Errorf("invalid token")
	}
	c := v.claims
	return &c, nil
}
