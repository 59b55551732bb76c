package moderation

import (
	"fmt"
	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/microcosm-cc/bluemonday"
	"html"
	"strings"
	"unicode"
)

// Filter cleans text before it is relayed. Every tag is stripped and
// configured words are masked on the plain text.
type Filter struct {
	policy   *bluemonday.Policy
	matcher  *goahocorasick.Machine
	maskRune rune
}

// NewFilter builds a filter. With no censored words only markup is stripped.
func NewFilter(censoredWords []string, maskRune rune) (*Filter, error) {
	f := &Filter{
		policy:   bluemonday.StrictPolicy(),
		maskRune: maskRune,
	}

	patterns := make([][]rune, 0, len(censoredWords))
	for _, word := range censoredWords {
		if p := normalizeRunes([]rune(word)); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return f, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("building censor automaton: %w", err)
	}
	f.matcher = m
	return f, nil
}

// Text returns plain text with markup removed and censored words masked.
// An empty result means nothing is left to send.
func (f *Filter) Text(content string) string {
	clean := strings.TrimSpace(html.UnescapeString(f.policy.Sanitize(content)))
	if clean == "" || f.matcher == nil {
		return clean
	}
	return f.censor(clean)
}

// Apply returns chat content ready for clients that render it as HTML.
func (f *Filter) Apply(content string) string {
	return html.EscapeString(f.Text(content))
}

// censor masks every match in the original text, including the noise
// characters between the letters of a match.
func (f *Filter) censor(original string) string {
	origRunes := []rune(original)
	norm, origIdx := normalizeWithIndex(origRunes)
	if len(norm) == 0 {
		return original
	}

	terms := f.matcher.MultiPatternSearch(norm, false)
	if len(terms) == 0 {
		return original
	}

	for _, term := range terms {
		start := term.Pos
		end := start + len(term.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			origRunes[i] = f.maskRune
		}
	}
	return string(origRunes)
}

func normalizeWithIndex(runes []rune) ([]rune, []int) {
	norm := make([]rune, 0, len(runes))
	idx := make([]int, 0, len(runes))
	for i, r := range runes {
		clean := unleet(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		idx = append(idx, i)
	}
	return norm, idx
}

func normalizeRunes(runes []rune) []rune {
	norm, _ := normalizeWithIndex(runes)
	return norm
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
