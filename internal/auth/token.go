package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the subset of provider access-token claims the
// client cares about
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseAccessToken extracts identity and expiry from a provider-issued
// access token. The signature is the provider's concern and is not
// verified here; the token only ever comes back to the provider, which
// verifies it server-side.
func parseAccessToken(raw string) (userID, email string, expiresAt time.Time, err error) {
	claims := &accessClaims{}
	parser := jwt.NewParser()

	if _, _, err = parser.ParseUnverified(raw, claims); err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	if claims.Subject == "" {
		return "", "", time.Time{}, fmt.Errorf("access token has no subject")
	}

	expiresAt = time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return claims.Subject, claims.Email, expiresAt, nil
}
