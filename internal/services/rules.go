package services

import (
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// Rule is a normalized, compiled policy rule. Only rules with a non-empty name
// pattern survive normalization; a rule that can never match is useless.
type Rule struct {
	NamePattern   string
	VendorPattern string
	Reason        string

	name   *regexp.Regexp
	vendor *regexp.Regexp
}

// NormalizeRules trims raw rule input and drops entries with empty or
// whitespace-only name patterns. It never fails: malformed entries are
// silently dropped as a convenience to callers. The evaluator logs when zero
// rules survive.
func NormalizeRules(raw []models.PolicyRule) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.NamePattern)
		if name == "" {
			continue
		}
		vendor := strings.TrimSpace(r.VendorPattern)

		rule := Rule{
			NamePattern:   name,
			VendorPattern: vendor,
			Reason:        strings.TrimSpace(r.Reason),
			name:          globRegexp(name),
		}
		if vendor != "" {
			rule.vendor = globRegexp(vendor)
		}
		rules = append(rules, rule)
	}
	return rules
}

// Matches reports whether an inventory item matches this rule. The name must
// match; the vendor pattern, when present, must match too.
func (r Rule) Matches(name, vendor string) bool {
	if !r.name.MatchString(name) {
		return false
	}
	if r.vendor != nil && !r.vendor.MatchString(vendor) {
		return false
	}
	return true
}

// globRegexp compiles a glob with `*` as the only wildcard into an anchored,
// case-insensitive regexp. Everything else is matched literally.
func globRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
}
