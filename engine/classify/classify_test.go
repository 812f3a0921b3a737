package classify

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
)

func mustCompile(t *testing.T, kws ...string) *Matcher {
	t.Helper()
	m, err := Compile(kws)
	require.NoError(t, err)
	return m
}

func TestNormalizeKeywords(t *testing.T) {
	got := NormalizeKeywords([]string{" Medal ", "COIN", "", "  ", "medal", "Pin"})
	require.Equal(t, []string{"medal", "coin", "pin"}, got)
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile(nil)
	require.ErrorIs(t, err, ErrEmptyCategories)
	_, err = Compile([]string{" ", ""})
	require.ErrorIs(t, err, ErrEmptyCategories)
}

func TestWholeWordSemantics(t *testing.T) {
	m := mustCompile(t, "pin")
	require.False(t, m.Matches(collectible.Item{ID: "a", Name: "pinwheel"}))
	require.True(t, m.Matches(collectible.Item{ID: "b", Name: "Winter Pin 2019"}))
	require.True(t, m.Matches(collectible.Item{ID: "c", Type: "Pin"}))
	require.False(t, m.Matches(collectible.Item{ID: "d", Type: "Spinner"}))
}

func TestWordBoundariesAreUnicode(t *testing.T) {
	m := mustCompile(t, "medal")
	require.False(t, m.Matches(collectible.Item{ID: "a", Name: "émedal"}))
	require.False(t, m.Matches(collectible.Item{ID: "b", Name: "medalé"}))
	require.False(t, m.Matches(collectible.Item{ID: "c", Name: "медальmedal"}))
	require.False(t, m.Matches(collectible.Item{ID: "d", Name: "medal_2019"}))
	require.True(t, m.Matches(collectible.Item{ID: "e", Name: "Médaille «Medal»"}))

	match, ok := m.Classify(collectible.Item{ID: "f", Type: "Ärmel-Medal"})
	require.True(t, ok)
	require.Equal(t, Match{Keyword: "medal", Field: FieldType}, match)
}

func TestTypeFirstThenTextFallback(t *testing.T) {
	m := mustCompile(t, "coin", "medal")

	match, ok := m.Classify(collectible.Item{ID: "a", Type: "Medal", Name: "Lucky Coin"})
	require.True(t, ok)
	require.Equal(t, Match{Keyword: "medal", Field: FieldType}, match)

	match, ok = m.Classify(collectible.Item{ID: "b", Name: "Lucky Coin"})
	require.True(t, ok)
	require.Equal(t, Match{Keyword: "coin", Field: FieldText}, match)

	match, ok = m.Classify(collectible.Item{ID: "c", Type: "Sticker", Description: "Awarded coin for 2015"})
	require.True(t, ok)
	require.Equal(t, FieldText, match.Field)
}

func TestNoFieldsIsNonMatch(t *testing.T) {
	m := mustCompile(t, "coin")
	require.False(t, m.Matches(collectible.Item{ID: "empty"}))
}

func TestKeywordsAreRegexSafe(t *testing.T) {
	m := mustCompile(t, "c++", "pass")
	require.False(t, m.Matches(collectible.Item{ID: "a", Name: "cxx"}))
	require.True(t, m.Matches(collectible.Item{ID: "b", Name: "Operation Pass"}))
	require.Equal(t, []string{"c++", "pass"}, m.Keywords())
}

func TestFilterPreservesOrder(t *testing.T) {
	m := mustCompile(t, "pin", "coin")
	items := []collectible.Item{
		{ID: "1", Type: "Coin"},
		{ID: "2", Name: "Sticker"},
		{ID: "3", Name: "Pin"},
	}
	got := m.Filter(items)
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "3", got[1].ID)
}

func TestCacheCompilesOncePerSet(t *testing.T) {
	c := NewCache()
	a, err := c.Matcher([]string{"pin", "Coin"})
	require.NoError(t, err)
	b, err := c.Matcher([]string{" coin", "PIN", "pin"})
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, c.Len())

	other, err := c.Matcher([]string{"medal"})
	require.NoError(t, err)
	require.NotSame(t, a, other)
	require.Equal(t, 2, c.Len())

	_, err = c.Matcher(nil)
	require.ErrorIs(t, err, ErrEmptyCategories)
}

func TestCacheConcurrent(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	got := make([]*Matcher, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.Matcher([]string{"medal", "pin"})
			if err == nil {
				got[i] = m
			}
		}(i)
	}
	wg.Wait()
	for _, m := range got {
		require.NotNil(t, m)
		require.True(t, m.Matches(collectible.Item{ID: "x", Type: "medal"}))
	}
	require.Equal(t, 1, c.Len())
}

// A keyword embedded inside a longer alphanumeric token never matches, while
// the same keyword surrounded by separators always does.
func TestWholeWordProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		kw := rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "keyword")
		pre := rapid.StringMatching(`[a-z0-9]{1,4}`).Draw(rt, "prefix")
		sep := rapid.SampledFrom([]string{" ", "-", ", ", "("}).Draw(rt, "sep")
		m, err := Compile([]string{kw})
		if err != nil {
			rt.Fatal(err)
		}
		embedded := pre + kw + pre
		if m.Matches(collectible.Item{ID: "x", Name: embedded}) {
			rt.Fatalf("%q matched inside %q", kw, embedded)
		}
		if !m.Matches(collectible.Item{ID: "y", Name: pre + sep + strings.ToUpper(kw) + sep + pre}) {
			rt.Fatalf("%q did not match as a separate word", kw)
		}
	})
}
