// Package identity verifies bearer tokens issued by the external identity
// provider and yields the request principal.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clinichq/clinicbook/libs/auth"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Principal is the verified identity behind a request. Never persisted.
type Principal struct {
	Subject string
	Email   string
}

// Gate validates Authorization headers. Tokens with a kid are verified RS256
// against the provider's JWKS; otherwise the shared HS256 secret is used.
type Gate struct {
	secret string
	jwks   *auth.JWKSClient
}

func NewGate(secret string, jwks *auth.JWKSClient) *Gate {
	return &Gate{secret: secret, jwks: jwks}
}

// Verify extracts and validates the bearer token. Any missing, malformed or
// rejected token yields ErrUnauthenticated; no detail is leaked to the caller.
func (g *Gate) Verify(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return Principal{}, ErrUnauthenticated
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}

	claims, err := g.verifyToken(token)
	if err != nil || claims.Sub == "" {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{Subject: claims.Sub, Email: claims.Email}, nil
}

func (g *Gate) verifyToken(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if g.jwks != nil && header.Kid != "" {
		key, err := g.jwks.Get(header.Kid)
		if err != nil {
			return nil, err
		}
		return auth.VerifyRS256(token, key)
	}
	return auth.ParseAndVerifyHS256(token, g.secret)
}

// AssertOwnership fails with ErrForbidden when a request claims a patient id
// other than the authenticated subject. An empty claim is allowed; the
// authenticated subject is used in its place.
func AssertOwnership(p Principal, claimedPatientID string) error {
	if claimedPatientID != "" && claimedPatientID != p.Subject {
		return ErrForbidden
	}
	return nil
}
