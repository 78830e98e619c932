package selector

import "strings"

// Specificity scores a selector deterministically: ids are worth 1000,
// classes 100, attribute selectors 10, and tag names 1. Higher scores win
// ties between definitions of equal priority.
func Specificity(selector string) int {
	score := 0
	for _, clause := range Split(selector) {
		score += clauseSpecificity(clause)
	}
	return score
}

func clauseSpecificity(clause string) int {
	var (
		score  int
		inAttr bool
		quote  rune
		tagRun bool
		parens int
	)
	for i := 0; i < len(clause); i++ {
		ch := rune(clause[i])
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		if parens > 0 {
			switch ch {
			case '(':
				parens++
			case ')':
				parens--
			}
			continue
		}
		switch {
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '(':
			// Pseudo-class arguments are left unscored.
			parens++
			tagRun = false
		case ch == '[':
			inAttr = true
			tagRun = false
			score += 10
		case ch == ']':
			inAttr = false
		case inAttr:
			// Attribute contents never contribute further counts.
		case ch == '#':
			tagRun = false
			score += 1000
			i += identLen(clause[i+1:])
		case ch == '.':
			tagRun = false
			score += 100
			i += identLen(clause[i+1:])
		case ch == ':':
			// Pseudo-classes and pseudo-elements are left unscored.
			tagRun = false
			i += identLen(clause[i+1:])
		case isIdentRune(ch):
			if !tagRun {
				tagRun = true
				score++
			}
		default:
			tagRun = false
		}
	}
	return score
}

// identLen returns the length of the identifier at the start of s.
func identLen(s string) int {
	n := 0
	for n < len(s) && isIdentRune(rune(s[n])) {
		n++
	}
	return n
}

func isIdentRune(r rune) bool {
	return r == '-' || r == '_' || r == '\\' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r >= 0x80
}

// StripCombinators normalizes whitespace around combinators so equivalent
// selectors hash to the same value when deriving container ids.
// "div.card > a" and "div.card>a" both come back as "div.card>a".
func StripCombinators(selector string) string {
	fields := strings.Fields(selector)
	var b strings.Builder
	for i, f := range fields {
		if i > 0 && !isCombinator(f) && !isCombinator(fields[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteString(f)
	}
	return b.String()
}

func isCombinator(s string) bool {
	return s == ">" || s == "+" || s == "~"
}
