package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaims() Claims {
	return Claims{
		PrincipalID: uuid.New(),
		Name:        "Sari",
		Role:        "kasir",
		TenantID:    uuid.New(),
		TenantSlug:  "my-cafe",
	}
}

func TestIssueAndValidate(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret"), "cafe-pos")
	in := testClaims()

	token, exp, err := ti.Issue(in, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	got, err := ti.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, in.PrincipalID, got.PrincipalID)
	assert.Equal(t, in.TenantID, got.TenantID)
	assert.Equal(t, "my-cafe", got.TenantSlug)
	assert.Equal(t, "kasir", got.Role)
	assert.Equal(t, in.PrincipalID.String(), got.Subject)
}

func TestValidateRejects(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret"), "cafe-pos")
	token, _, err := ti.Issue(testClaims(), time.Hour)
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("other"), "cafe-pos")
	_, err = other.ValidateToken(token)
	assert.True(t, errs.Is(err, errs.EUnauthorized))

	wrongIssuer := NewTokenIssuer([]byte("secret"), "someone-else")
	_, err = wrongIssuer.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ti.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ti.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret"), "cafe-pos")
	issued := time.Now().Add(-2 * time.Hour)
	ti.now = func() time.Time { return issued }
	token, _, err := ti.Issue(testClaims(), time.Hour)
	require.NoError(t, err)

	ti.now = time.Now
	_, err = ti.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRequiresTenant(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret"), "cafe-pos")
	c := testClaims()
	c.TenantID = uuid.Nil
	token, _, err := ti.Issue(c, time.Hour)
	require.NoError(t, err)

	_, err = ti.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
