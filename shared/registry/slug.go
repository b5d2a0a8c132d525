package registry

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
)

const (
	MinSlugLength = 3
	MaxSlugLength = 50
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// reserved slugs collide with platform routes and subdomains
var reserved = map[string]struct{}{
	"admin": {}, "api": {}, "app": {}, "assets": {}, "auth": {}, "dashboard": {},
	"health": {}, "login": {}, "logout": {}, "master": {}, "metrics": {},
	"platform": {}, "public": {}, "register": {}, "root": {}, "static": {},
	"superadmin": {}, "support": {}, "system": {}, "t": {}, "tenants": {}, "www": {},
}

// ReservedSlugs returns the reserved words
func ReservedSlugs() []string {
	words := make([]string, 0, len(reserved))
	for w := range reserved {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// NormalizeSlug trims and lowercases a slug taken from a URL, header or form
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateSlug checks s against the slug grammar: lowercase letters, digits and
// hyphens, not starting or ending with a hyphen, 3 to 50 characters.
func ValidateSlug(s string) error {
	const op = "registry.ValidateSlug"
	switch {
	case len(s) < MinSlugLength:
		return errs.New(errs.EInvalid, op, "slug must be at least %d characters", MinSlugLength)
	case len(s) > MaxSlugLength:
		return errs.New(errs.EInvalid, op, "slug must be at most %d characters", MaxSlugLength)
	case !slugPattern.MatchString(s):
		return errs.New(errs.EInvalid, op, "slug may contain only lowercase letters, digits and hyphens, and may not start or end with a hyphen")
	}
	if IsReserved(s) {
		return errs.New(errs.EInvalid, op, "slug %q is reserved", s)
	}
	return nil
}

// IsReserved reports whether s is held back for platform use
func IsReserved(s string) bool {
	_, ok := reserved[s]
	return ok
}

// DataStoreID derives the data store name for a slug
func DataStoreID(slug string) string {
	return "tenant_" + strings.ReplaceAll(slug, "-", "_")
}
