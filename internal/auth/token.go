// Package auth verifies the bearer tokens presented at the relay handshake
// and on the REST API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campusrelay/pkg/types"
)

// ErrUnauthenticated is returned for any token that cannot be trusted.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the access token payload.
type Claims struct {
	Role   types.Role `json:"role"`
	IsPaid bool       `json:"is_paid"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 access tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewAuthenticator creates an authenticator for the given shared secret.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{signingKey: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID string, role types.Role, paid bool, ttl time.Duration) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:   role,
		IsPaid: paid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies the token and returns the identity it carries.
func (a *Authenticator) Authenticate(tokenString string) (types.Identity, error) {
	if tokenString == "" {
		return types.Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, fmt.Errorf("token has expired: %w", ErrUnauthenticated)
		}
		return types.Identity{}, fmt.Errorf("invalid token: %w", ErrUnauthenticated)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return types.Identity{}, fmt.Errorf("invalid token claims: %w", ErrUnauthenticated)
	}
	if !types.IsValidUserID(claims.Subject) || !types.IsValidRole(claims.Role) {
		return types.Identity{}, fmt.Errorf("invalid subject or role: %w", ErrUnauthenticated)
	}

	return types.Identity{UserID: claims.Subject, Role: claims.Role, Paid: claims.IsPaid}, nil
}
