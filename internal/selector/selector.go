// Package selector implements scope-safe CSS selector composition.
//
// Naive concatenation of a parent scope and a comma-grouped child selector is
// wrong: CSS grouping scopes only the first clause, so the remaining clauses
// silently match outside the parent subtree. Everything here goes through the
// Clauses value type so the splitting invariant is enforced at one boundary.
package selector

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Clauses is a child selector parsed into its top-level comma clauses.
type Clauses []string

// Split breaks a selector list on top-level commas. Commas inside brackets,
// parentheses, or quoted attribute values are not split points.
func Split(selector string) Clauses {
	var (
		clauses Clauses
		start   int
		depth   int
		quote   rune
	)
	for i, r := range selector {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			if c := strings.TrimSpace(selector[start:i]); c != "" {
				clauses = append(clauses, c)
			}
			start = i + 1
		}
	}
	if c := strings.TrimSpace(selector[start:]); c != "" {
		clauses = append(clauses, c)
	}
	return clauses
}

// String rejoins the clauses into a selector list.
func (c Clauses) String() string {
	return strings.Join(c, ", ")
}

// Scoped returns a copy with every clause prefixed by the parent selector
// using the descendant combinator. Each clause is scoped independently, so
// querying the result can never escape the parent subtree.
func (c Clauses) Scoped(parent string) Clauses {
	parent = strings.TrimSpace(parent)
	if parent == "" {
		return c
	}
	scoped := make(Clauses, len(c))
	for i, clause := range c {
		scoped[i] = parent + " " + clause
	}
	return scoped
}

// Compose scopes every top-level clause of child under parent and returns the
// rejoined selector list. Compose("", child) normalizes child without scoping.
func Compose(parent, child string) string {
	return Split(child).Scoped(parent).String()
}

// SyntaxError reports a selector clause that is not valid CSS. Definitions
// carrying one are skipped during matching, never fatal to the call.
type SyntaxError struct {
	Selector string
	Err      error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid selector %q: %v", e.Selector, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Validate compiles the selector list and returns a *SyntaxError when it does
// not parse.
func Validate(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return &SyntaxError{Selector: selector, Err: fmt.Errorf("empty selector")}
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return &SyntaxError{Selector: selector, Err: err}
	}
	return nil
}
