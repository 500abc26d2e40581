package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is the single access/refresh pair held by the client.
type Token struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
}

// IsExpired reports now >= ExpiresAt.
func (t Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// NeedsRefresh reports now >= ExpiresAt - threshold.
func (t Token) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return !now.Before(t.ExpiresAt.Add(-threshold))
}

// Claims are the access-token fields the client reads. The signature is not
// verified; the server remains the authority.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseClaims reads exp and user_id from a JWT access token.
func ParseClaims(access string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	var out Claims
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	switch v := claims["user_id"].(type) {
	case string:
		out.UserID = v
	case float64:
		out.UserID = fmt.Sprintf("%d", int64(v))
	}
	if out.ExpiresAt.IsZero() && out.UserID == "" {
		return Claims{}, errors.New("access token carries no usable claims")
	}
	return out, nil
}
