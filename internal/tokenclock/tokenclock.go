// Package tokenclock computes token expiry and pending-session validity.
// Tokens are decoded without signature verification; the machine never
// trusts claims for authorization, only for scheduling and storage keying.
package tokenclock

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jaktapp/fieldauth/internal/securestore"
)

// ExpirationDate decodes the token's exp claim as an absolute timestamp.
func ExpirationDate(token string) (time.Time, error) {
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp, nil
}

// Subject decodes the token's sub claim.
func Subject(token string) (string, error) {
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if parsed.Subject() == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return parsed.Subject(), nil
}

// TimeUntilExpiration returns how long remains before expiry, less offset,
// floored at zero.
func TimeUntilExpiration(expiry time.Time, offset time.Duration) time.Duration {
	d := time.Until(expiry) - offset
	if d < 0 {
		return 0
	}
	return d
}

// IsTokenActive reports whether the token's exp claim is still in the
// future. Undecodable tokens count as inactive.
func IsTokenActive(token string) bool {
	exp, err := ExpirationDate(token)
	if err != nil {
		return false
	}
	return TimeUntilExpiration(exp, 0) > 0
}

// IsPendingSessionActive reports whether a pending session is still inside
// its resume window.
func IsPendingSessionActive(p *securestore.PendingSession, window time.Duration) bool {
	if p == nil {
		return false
	}
	created := time.UnixMilli(p.Timestamp)
	return time.Now().Before(created.Add(window))
}
