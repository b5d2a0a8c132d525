package registry

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"my-cafe", true},
		{"kopi-kenangan-2", true},
		{"abc", true},
		{strings.Repeat("a", 50), true},
		{"ab", false},
		{strings.Repeat("a", 51), false},
		{"My-Cafe", false},
		{"-cafe", false},
		{"cafe-", false},
		{"my--cafe", true},
		{"a-b", true},
		{"0-9", true},
		{"my_cafe", false},
		{"my cafe", false},
		{"admin", false},
		{"api", false},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			err := ValidateSlug(tt.slug)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.Is(err, errs.EInvalid), "want EInvalid, got %v", err)
		})
	}
}

func TestReservedSlugs(t *testing.T) {
	want := []string{
		"admin", "api", "app", "assets", "auth", "dashboard", "health", "login",
		"logout", "master", "metrics", "platform", "public", "register", "root",
		"static", "superadmin", "support", "system", "t", "tenants", "www",
	}
	assert.Equal(t, want, ReservedSlugs())

	for _, w := range want {
		assert.True(t, IsReserved(w), w)
		assert.True(t, errs.Is(ValidateSlug(w), errs.EInvalid), w)
	}
	assert.False(t, IsReserved("my-cafe"))
}

// Register succeeds exactly when the slug matches the grammar, is not reserved
// and is not taken. A second registration of the same slug conflicts.
func TestRegisterSlugRoundTrip(t *testing.T) {
	grammar := regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)
	rng := rand.New(rand.NewSource(42))
	alphabet := "abc019-_A. "
	r := newRegistry(t)
	ctx := context.Background()
	taken := make(map[string]bool)

	candidates := append(ReservedSlugs(), "my--cafe", "-ab", "ab-", "abc", strings.Repeat("z", 51))
	for i := 0; i < 400; i++ {
		var b strings.Builder
		for l := rng.Intn(8); l > 0; l-- {
			b.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		candidates = append(candidates, b.String())
	}

	for _, slug := range candidates {
		want := grammar.MatchString(slug) &&
			len(slug) >= MinSlugLength && len(slug) <= MaxSlugLength &&
			!IsReserved(slug) && !taken[slug]

		_, err := r.Register(ctx, "Cafe", slug)
		if want {
			require.NoError(t, err, "slug %q", slug)
			taken[slug] = true

			_, err = r.Register(ctx, "Cafe again", slug)
			assert.True(t, errs.Is(err, errs.EConflict), "slug %q: %v", slug, err)
			continue
		}
		require.Error(t, err, "slug %q", slug)
		if taken[slug] {
			assert.True(t, errs.Is(err, errs.EConflict), "slug %q: %v", slug, err)
		} else {
			assert.True(t, errs.Is(err, errs.EInvalid), "slug %q: %v", slug, err)
		}
	}

	tenants, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, len(taken))
}

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "my-cafe", NormalizeSlug("  My-Cafe "))
}

func TestDataStoreID(t *testing.T) {
	assert.Equal(t, "tenant_my_cafe", DataStoreID("my-cafe"))
	assert.Equal(t, "tenant_abc", DataStoreID("abc"))
}

// Valid slugs map to distinct data store ids that fit a postgres identifier.
func TestDataStoreIDProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := "abcdefghijklmnopqrstuvwxyz0123456789"
	seen := make(map[string]string)

	for i := 0; i < 2000; i++ {
		var parts []string
		for n := 1 + rng.Intn(4); n > 0; n-- {
			var b strings.Builder
			for l := 1 + rng.Intn(10); l > 0; l-- {
				b.WriteByte(alphabet[rng.Intn(len(alphabet))])
			}
			parts = append(parts, b.String())
		}
		slug := strings.Join(parts, "-")
		if ValidateSlug(slug) != nil {
			continue
		}
		id := DataStoreID(slug)
		assert.LessOrEqual(t, len(id), 63)
		assert.True(t, strings.HasPrefix(id, "tenant_"))
		if prev, ok := seen[id]; ok {
			assert.Equal(t, prev, slug, "distinct slugs share data store %s", id)
		}
		seen[id] = slug
	}
}
