package session

import (
	"testing"

	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)

	assert.True(t, h.Compare(hash, "s3cret"))
	assert.False(t, h.Compare(hash, "wrong"))
	assert.False(t, h.Compare("", "s3cret"))
	assert.False(t, h.Compare("not-a-hash", "s3cret"))
}

func TestNewHasherClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(1).Cost)
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(99).Cost)
	assert.Equal(t, 12, NewHasher(12).Cost)
}

func TestVerifyCredentialOrder(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	pw, _ := h.Hash("password1")
	pin, _ := h.Hash("1234")

	tests := []struct {
		name       string
		emp        models.Employee
		credential string
		want       bool
	}{
		{"password", models.Employee{PasswordHash: pw, PinHash: pin}, "password1", true},
		{"bcrypt pin", models.Employee{PasswordHash: pw, PinHash: pin}, "1234", true},
		{"legacy pin", models.Employee{PinDigest: LegacyPINDigest("5678")}, "5678", true},
		{"hashed pin with legacy present", models.Employee{PinHash: pin, PinDigest: LegacyPINDigest("5678")}, "1234", true},
		{"legacy pin with hash present", models.Employee{PinHash: pin, PinDigest: LegacyPINDigest("5678")}, "5678", true},
		{"neither pin", models.Employee{PinHash: pin, PinDigest: LegacyPINDigest("5678")}, "0000", false},
		{"wrong", models.Employee{PasswordHash: pw, PinHash: pin}, "nope", false},
		{"no secrets", models.Employee{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.verify(&tt.emp, tt.credential))
		})
	}
}

func TestLegacyPINDigest(t *testing.T) {
	assert.Equal(t, "03ac674216f3e15c761ee1a5e255f067953623c8b388b4459e13f978d7c846f4", LegacyPINDigest("1234"))
}
