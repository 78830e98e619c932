package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single clause",
			input:    "div.item",
			expected: []string{"div.item"},
		},
		{
			name:     "simple group",
			input:    "a.x, a.y",
			expected: []string{"a.x", "a.y"},
		},
		{
			name:     "comma inside attribute value",
			input:    `a[title="one, two"], b`,
			expected: []string{`a[title="one, two"]`, "b"},
		},
		{
			name:     "comma inside pseudo-class parens",
			input:    "li:nth-child(2), li:is(.a, .b)",
			expected: []string{"li:nth-child(2)", "li:is(.a, .b)"},
		},
		{
			name:     "comma inside single quotes",
			input:    `a[href*='x,y'], span`,
			expected: []string{`a[href*='x,y']`, "span"},
		},
		{
			name:     "trims whitespace and drops empties",
			input:    "  a.x ,, b.y  ",
			expected: []string{"a.x", "b.y"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Clauses(tc.expected), Split(tc.input))
		})
	}
}

func TestCompose(t *testing.T) {
	t.Run("scopes every clause independently", func(t *testing.T) {
		got := Compose("div.parent", "a, b, c")
		assert.Equal(t, "div.parent a, div.parent b, div.parent c", got)
		assert.NotEqual(t, "div.parent a, b, c", got, "naive concatenation leaks clauses out of scope")
	})

	t.Run("single clause", func(t *testing.T) {
		assert.Equal(t, "ul.list li.item", Compose("ul.list", "li.item"))
	})

	t.Run("empty parent normalizes child only", func(t *testing.T) {
		assert.Equal(t, "a.x, a.y", Compose("", "a.x,a.y"))
	})

	t.Run("comma groups inside attribute values survive", func(t *testing.T) {
		got := Compose("#scope", `a[href*="im.1688.com"], a[href*="air.1688.com"]`)
		assert.Equal(t, `#scope a[href*="im.1688.com"], #scope a[href*="air.1688.com"]`, got)
	})

	t.Run("nested composition stays scoped", func(t *testing.T) {
		inner := Compose("div.item", "a.x, a.y")
		got := Compose("section.root", inner)
		assert.Equal(t, "section.root div.item a.x, section.root div.item a.y", got)
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("div.item > a[href]"))
	require.NoError(t, Validate("a.x, a.y"))

	err := Validate("div..")
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Equal(t, "div..", synErr.Selector)

	err = Validate("   ")
	require.Error(t, err)
	require.ErrorAs(t, err, &synErr)
}

func TestSpecificity(t *testing.T) {
	testCases := []struct {
		selector string
		expected int
	}{
		{"div", 1},
		{"div span", 2},
		{".item", 100},
		{"#main", 1000},
		{"div.item", 101},
		{"#main div.item a[href]", 1112},
		{"a[href][target]", 21},
		{"ul > li", 2},
		{`a[title="no #ids .classes here"]`, 11},
	}

	for _, tc := range testCases {
		t.Run(tc.selector, func(t *testing.T) {
			assert.Equal(t, tc.expected, Specificity(tc.selector))
		})
	}
}

func TestSpecificityOrdersCompetingSelectors(t *testing.T) {
	generic := Specificity("div li")
	classed := Specificity("div li.active")
	identified := Specificity("#feed li.active")
	assert.Greater(t, classed, generic)
	assert.Greater(t, identified, classed)
}
