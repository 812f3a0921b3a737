// Package classify decides which catalog items belong to the configured
// collectible categories.
package classify

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/pkg/fn"
)

// ErrEmptyCategories is returned when no keyword survives normalization.
var ErrEmptyCategories = errors.New("category set is empty")

// Field names the item field a match came from.
type Field string

const (
	FieldType Field = "type"
	FieldText Field = "text"
)

// Match explains why an item was classified.
type Match struct {
	Keyword string
	Field   Field
}

// NormalizeKeywords trims and lowercases keywords, dropping blanks and
// later duplicates.
func NormalizeKeywords(keywords []string) []string {
	lower := cases.Lower(language.Und)
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = lower.String(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return fn.Unique(out)
}

// Matcher tests items against one compiled whole-word pattern. It is
// immutable and safe for concurrent use.
type Matcher struct {
	keywords []string
	pattern  *regexp.Regexp
}

// nonWord is any rune outside Unicode letters, digits and '_'. RE2's \b
// only knows ASCII word characters, so "medal" would match inside
// "émedal" with it.
const nonWord = `[^\p{L}\p{N}_]`

// Compile builds a Matcher for the given category keywords.
func Compile(keywords []string) (*Matcher, error) {
	norm := NormalizeKeywords(keywords)
	if len(norm) == 0 {
		return nil, ErrEmptyCategories
	}
	quoted := fn.Map(norm, regexp.QuoteMeta)
	pattern, err := regexp.Compile(`(?i)(?:^|` + nonWord + `)(` + strings.Join(quoted, "|") + `)(?:$|` + nonWord + `)`)
	if err != nil {
		return nil, err
	}
	return &Matcher{keywords: norm, pattern: pattern}, nil
}

// Keywords returns the normalized category set.
func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

// Pattern returns the compiled expression source.
func (m *Matcher) Pattern() string { return m.pattern.String() }

// Classify reports whether item matches and which keyword matched. The type
// label is tried first; name and description are the fallback.
func (m *Matcher) Classify(item collectible.Item) (Match, bool) {
	lower := cases.Lower(language.Und)
	if item.Type != "" {
		if kw := m.find(lower.String(item.Type)); kw != "" {
			return Match{Keyword: kw, Field: FieldType}, true
		}
	}
	text := strings.TrimSpace(item.Text())
	if text == "" {
		return Match{}, false
	}
	if kw := m.find(lower.String(text)); kw != "" {
		return Match{Keyword: kw, Field: FieldText}, true
	}
	return Match{}, false
}

// find returns the first whole-word keyword in s, or "".
func (m *Matcher) find(s string) string {
	if sub := m.pattern.FindStringSubmatch(s); sub != nil {
		return sub[1]
	}
	return ""
}

// Matches reports whether item belongs to the category set.
func (m *Matcher) Matches(item collectible.Item) bool {
	_, ok := m.Classify(item)
	return ok
}

// Filter returns the matching items in input order.
func (m *Matcher) Filter(items []collectible.Item) []collectible.Item {
	return fn.Filter(items, m.Matches)
}

// Cache hands out one Matcher per distinct category set, compiling each
// set at most once.
type Cache struct {
	c *cache.Cache
}

// NewCache creates an empty matcher cache. Entries never expire.
func NewCache() *Cache {
	return &Cache{c: cache.New(cache.NoExpiration, 0)}
}

// Matcher returns the cached Matcher for keywords, compiling it on first use.
// Order and case of keywords do not affect the key.
func (c *Cache) Matcher(keywords []string) (*Matcher, error) {
	key := cacheKey(keywords)
	if v, ok := c.c.Get(key); ok {
		return v.(*Matcher), nil
	}
	m, err := Compile(keywords)
	if err != nil {
		return nil, err
	}
	// Add fails if a concurrent caller won the race; use theirs.
	if err := c.c.Add(key, m, cache.NoExpiration); err != nil {
		if v, ok := c.c.Get(key); ok {
			return v.(*Matcher), nil
		}
	}
	return m, nil
}

// Len is the number of compiled category sets held.
func (c *Cache) Len() int { return c.c.ItemCount() }

func cacheKey(keywords []string) string {
	norm := NormalizeKeywords(keywords)
	sort.Strings(norm)
	return strings.Join(norm, "\x00")
}
