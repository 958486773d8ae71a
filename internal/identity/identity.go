// Package identity resolves the caller behind a bearer credential.
//
// The credential is an HS256 JWT carrying the account id ("id") and,
// optionally, the account role. It is resolved once per HTTP request or
// websocket connection and carried explicitly from there on.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketchat/internal/model"
)

// Identity is the resolved caller.
type Identity struct {
	UserID string
	Role   string
}

// Claims is the token payload issued by the account service.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify checks token and returns the identity it names. Every failure is
// reported as model.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: no token", model.ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: token expired", model.ErrUnauthenticated)
		}
		return Identity{}, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", model.ErrUnauthenticated)
	}

	role := claims.Role
	if role == "" {
		role = model.RoleUser
	}
	return Identity{UserID: claims.ID, Role: role}, nil
}

// Issue signs a token for userID. The account service owns issuance in
// production; this is used by tests and local tooling.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		ID:   userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// HandshakeToken extracts the credential of a websocket upgrade. Browsers
// cannot set headers on the upgrade request, so the token query parameter
// is accepted as well as the Authorization header.
func HandshakeToken(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type contextKey struct{}

// WithContext attaches id to ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by WithContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}
