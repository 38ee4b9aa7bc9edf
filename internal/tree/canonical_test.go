package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Home", "home"},
		{"Products & Services", "products-services"},
		{"  Opening   Hours  ", "opening-hours"},
		{"Tax\tForms", "tax-forms"},
		{"Q&A", "qa"},
		{"FAQ's", "faqs"},
		{"Step-by-step guide", "step-by-step-guide"},
		{"snake_case", "snake_case"},
		{"Café Menü", "café-menü"},
		{"2024 Reports", "2024-reports"},
		{"a . b", "a-b"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.label))
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	labels := []string{
		"Home", "Products & Services", "  a  b  ", "ǅemal", "İstanbul", "x -- y", "Contact us!", "", "\"quoted\"",
	}

	for _, label := range labels {
		once := Canonicalize(label)
		assert.Equal(t, once, Canonicalize(once), "label %q", label)
	}
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/home/about", JoinPath("home", "about"))
	assert.Equal(t, []string{"home", "about"}, SplitPath("/home/about"))
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, "about", LastSegment("/home/about"))

	assert.True(t, IsAncestorPath("/home", "/home/about"))
	assert.False(t, IsAncestorPath("/home", "/home"))
	assert.False(t, IsAncestorPath("/home", "/homepage/about"))
}
