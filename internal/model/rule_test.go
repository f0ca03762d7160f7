package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidationRule(t *testing.T) {
	rules, err := ParseValidationRule("minLength:2; maxLength:10;regex:^[a-z;]+$")
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, Rule{Kind: RuleMinLength, N: 2}, rules[0])
	assert.Equal(t, Rule{Kind: RuleMaxLength, N: 10}, rules[1])
	assert.Equal(t, RuleRegex, rules[2].Kind)
	assert.True(t, rules[2].Pattern.MatchString("ab;c"))
}

func TestParseValidationRuleEmpty(t *testing.T) {
	rules, err := ParseValidationRule("  ")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseValidationRuleErrors(t *testing.T) {
	cases := []string{
		"minLength:abc",
		"maxLength",
		"between:1,2",
		"regex:([",
	}
	for _, c := range cases {
		_, err := ParseValidationRule(c)
		assert.Error(t, err, c)
	}
}

func TestLoadRulesKeepsPrefix(t *testing.T) {
	f := Field{ValidationRule: "minLength:3;bogus:1"}
	err := f.LoadRules()
	assert.Error(t, err)
	require.Len(t, f.Rules, 1)
	assert.Equal(t, RuleMinLength, f.Rules[0].Kind)
}
