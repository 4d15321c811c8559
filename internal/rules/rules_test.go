package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"heksher/internal/features"
)

func order(names ...string) []features.Feature {
	out := make([]features.Feature, len(names))
	for i, n := range names {
		out[i] = features.Feature{Name: n, Index: i}
	}
	return out
}

func TestCanonicalKeyIsOrderAndMapIterationInvariant(t *testing.T) {
	ord := order("account", "user", "theme")
	a := CanonicalKey(ord, map[string]string{"user": "admin", "account": "jim"})
	b := CanonicalKey(ord, map[string]string{"account": "jim", "user": "admin"})
	assert.Equal(t, a, b)
}

func TestCanonicalKeyDistinguishesDifferentValues(t *testing.T) {
	ord := order("account", "user")
	a := CanonicalKey(ord, map[string]string{"account": "jim"})
	b := CanonicalKey(ord, map[string]string{"account": "john"})
	assert.NotEqual(t, a, b)
}

func TestCanonicalKeyDistinguishesDifferentFeatureSets(t *testing.T) {
	ord := order("account", "user")
	a := CanonicalKey(ord, map[string]string{"account": "jim"})
	b := CanonicalKey(ord, map[string]string{"account": "jim", "user": "admin"})
	assert.NotEqual(t, a, b)
}

func TestOrderedPairsFollowsRegistryOrder(t *testing.T) {
	ord := order("account", "user", "theme")
	pairs := OrderedPairs(ord, map[string]string{"theme": "dark", "account": "jim"})
	assert.Equal(t, [][2]string{{"account", "jim"}, {"theme", "dark"}}, pairs)
}

func TestOrderedPairsOmitsWildcardFeatures(t *testing.T) {
	ord := order("account", "user", "theme")
	pairs := OrderedPairs(ord, map[string]string{"user": "guest"})
	assert.Equal(t, [][2]string{{"user", "guest"}}, pairs)
}
