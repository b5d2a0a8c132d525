package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
)

// ErrInvalidToken is returned when a token is malformed, expired or signed with another key
var ErrInvalidToken = &errs.Error{Code: errs.EUnauthorized, Op: "session.ValidateToken", Msg: "invalid or expired token"}

// Claims are carried by session tokens. The tenant fields let any service
// re-establish the tenant context without a registry lookup.
type Claims struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	TenantID    uuid.UUID `json:"tenant_id"`
	TenantSlug  string    `json:"tenant_slug"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 session tokens
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret
func NewTokenIssuer(secret []byte, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, now: time.Now}
}

// Issue signs claims valid for ttl and returns the token and its expiry
func (ti *TokenIssuer) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := ti.now().UTC()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.PrincipalID.String(),
		Issuer:    ti.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, errs.Wrap("session.Issue", err)
	}
	return token, expiresAt, nil
}

// ValidateToken parses a token and checks signature, expiry and issuer
func (ti *TokenIssuer) ValidateToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	},
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TenantID == uuid.Nil || claims.PrincipalID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
