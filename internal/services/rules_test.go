package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/models"
)

func TestNormalizeRulesDropsEmptyNamePatterns(t *testing.T) {
	rules := NormalizeRules([]models.PolicyRule{
		{NamePattern: "TeamViewer*"},
		{NamePattern: "   "},
		{NamePattern: ""},
		{NamePattern: "  Slack  ", Reason: "  chat tools  "},
	})

	require.Len(t, rules, 2)
	assert.Equal(t, "TeamViewer*", rules[0].NamePattern)
	assert.Equal(t, "Slack", rules[1].NamePattern)
	assert.Equal(t, "chat tools", rules[1].Reason)
}

func TestRuleGlobMatching(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"TeamViewer*", "TeamViewer", true},
		{"TeamViewer*", "TeamViewer 15", true},
		{"TeamViewer*", "teamviewer host", true}, // case-insensitive
		{"TeamViewer*", "My TeamViewer", false},  // anchored at start
		{"*TeamViewer", "My TeamViewer", true},
		{"Slack", "Slack", true},
		{"Slack", "Slack Desktop", false}, // anchored at end
		{"slack", "SLACK", true},
		{"*", "anything at all", true},
		{"Notepad++", "Notepad++", true}, // regex metachars are literal
		{"Notepad++", "Notepadxx", false},
		{"7*zip", "7-Zip", true},
		{"7*zip", "8-Zip", false},
	}

	for _, tt := range tests {
		rules := NormalizeRules([]models.PolicyRule{{NamePattern: tt.pattern}})
		require.Len(t, rules, 1)
		assert.Equalf(t, tt.want, rules[0].Matches(tt.name, ""),
			"pattern %q against %q", tt.pattern, tt.name)
	}
}

func TestRuleVendorPattern(t *testing.T) {
	rules := NormalizeRules([]models.PolicyRule{
		{NamePattern: "*", VendorPattern: "TeamViewer*"},
	})
	require.Len(t, rules, 1)

	assert.True(t, rules[0].Matches("Remote Thing", "TeamViewer GmbH"))
	assert.False(t, rules[0].Matches("Remote Thing", "SomeOther GmbH"))
	assert.False(t, rules[0].Matches("Remote Thing", ""))
}

func TestRuleWithoutVendorPatternIgnoresVendor(t *testing.T) {
	rules := NormalizeRules([]models.PolicyRule{{NamePattern: "Slack"}})
	require.Len(t, rules, 1)

	assert.True(t, rules[0].Matches("Slack", "Slack Technologies"))
	assert.True(t, rules[0].Matches("Slack", ""))
}
