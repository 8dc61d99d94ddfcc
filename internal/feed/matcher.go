package feed

import (
	"regexp"
	"strings"

	"github.com/bilgisen/newswire/internal/models"
)

// Matcher applies a setting's keywords at its keyword location
type Matcher struct {
	patterns []*regexp.Regexp
	location models.KeywordLocation
}

// NewMatcher compiles case-insensitive whole-word patterns. Word edges are
// letter/digit aware so non-ASCII keywords match too.
func NewMatcher(keywords []string, location models.KeywordLocation) *Matcher {
	m := &Matcher{location: location}
	if m.location == "" {
		m.location = models.LocationTitleOrBody
	}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		words := strings.Fields(k)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		expr := `(?i)(?:^|[^\p{L}\p{N}_])` + strings.Join(words, `\s+`) + `(?:$|[^\p{L}\p{N}_])`
		m.patterns = append(m.patterns, regexp.MustCompile(expr))
	}
	return m
}

// Empty reports whether there is nothing to match against
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0
}

func (m *Matcher) contains(text string) bool {
	for _, re := range m.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Match reports whether an item with this title and body is kept
func (m *Matcher) Match(title, body string) bool {
	switch m.location {
	case models.LocationTitle:
		return m.contains(title)
	case models.LocationBody:
		return m.contains(body)
	case models.LocationTitleAndBody:
		return m.contains(title) && m.contains(body)
	default:
		return m.contains(title) || m.contains(body)
	}
}
