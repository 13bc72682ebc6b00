// Package glob compiles shell-style wildcard patterns into anchored regular
// expressions used by subscription filters.
//
// Supported syntax:
//
//	*        any run of characters within one path segment
//	**       any number of whole segments, when it forms a segment on its own
//	?        exactly one character
//	{a,b}    alternation, may nest
//	[...]    character class, [!...] negates
//	\c       the literal character c
package glob

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern reports a malformed pattern
var ErrBadPattern = errors.New("glob: malformed pattern")

// Options controls how a pattern is compiled
type Options struct {
	// Global disables anchoring so the pattern may match anywhere in the input.
	Global bool
}

// Pattern is a compiled glob
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// Compile translates pattern into a regular expression
func Compile(pattern string, opts Options) (*Pattern, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	expr, err := translate(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}
	if !opts.Global {
		expr = "^" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	return &Pattern{source: pattern, re: re}, nil
}

// MustCompile is like Compile but panics on a malformed pattern
func MustCompile(pattern string, opts Options) *Pattern {
	p, err := Compile(pattern, opts)
	if err != nil {
		panic(err)
	}
	return p
}

// MatchString reports whether s matches the pattern
func (p *Pattern) MatchString(s string) bool {
	return p.re.MatchString(s)
}

// String returns the source pattern
func (p *Pattern) String() string {
	return p.source
}

// Regexp returns the compiled expression
func (p *Pattern) Regexp() *regexp.Regexp {
	return p.re
}

// IsGlobLike reports whether s contains wildcard characters
func IsGlobLike(s string) bool {
	return strings.ContainsAny(s, "*?")
}

func translate(pattern string) (string, error) {
	var sb strings.Builder
	runes := []rune(pattern)
	depth := 0

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				return "", errors.New("trailing backslash")
			}
			i++
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))

		case '*':
			start := i
			for i+1 < len(runes) && runes[i+1] == '*' {
				i++
			}
			if i > start && segmentStart(runes, start) && segmentEnd(runes, i) {
				sb.WriteString(`(?:[^/]*(?:/|$))*`)
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
				continue
			}
			sb.WriteString(`[^/]*`)

		case '?':
			sb.WriteString(".")

		case '{':
			depth++
			sb.WriteString("(?:")

		case '}':
			if depth == 0 {
				sb.WriteString(`\}`)
				continue
			}
			depth--
			sb.WriteString(")")

		case ',':
			if depth > 0 {
				sb.WriteString("|")
				continue
			}
			sb.WriteString(",")

		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				return "", errors.New("unterminated character class")
			}
			sb.WriteString("[")
			j := i + 1
			if runes[j] == '!' {
				sb.WriteString("^")
				j++
			}
			for ; j < end; j++ {
				if runes[j] == '\\' && j+1 < end {
					j++
					sb.WriteString(regexp.QuoteMeta(string(runes[j])))
					continue
				}
				sb.WriteRune(runes[j])
			}
			sb.WriteString("]")
			i = end

		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	if depth != 0 {
		return "", errors.New("unbalanced braces")
	}
	return sb.String(), nil
}

func segmentStart(runes []rune, i int) bool {
	return i == 0 || runes[i-1] == '/'
}

func segmentEnd(runes []rune, i int) bool {
	return i == len(runes)-1 || runes[i+1] == '/'
}

// classEnd returns the index of the ']' closing the class opened at i
func classEnd(runes []rune, i int) int {
	j := i + 1
	if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
		j++
	}
	// a leading ']' is a member, not the terminator
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for ; j < len(runes); j++ {
		switch runes[j] {
		case '\\':
			j++
		case ']':
			return j
		}
	}
	return -1
}
