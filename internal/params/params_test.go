package params

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caseroute/backend/internal/models"
)

func TestExtractUnionsEverySource(t *testing.T) {
	src := models.TagSources{
		Case:         []string{"LU_COUNTER_REQUIRED"},
		Goods:        [][]string{{"ML1a", "firearms"}, {"ML1a"}},
		Destinations: [][]string{{"embargoed_destination"}},
		Organisation: []string{"maritime_anti_piracy", " "},
	}
	set := Extract(src)
	assert.Equal(t, []string{
		"LU_COUNTER_REQUIRED", "ML1a", "embargoed_destination", "firearms", "maritime_anti_piracy",
	}, set.Slice())
}

func TestExtractIsDeterministic(t *testing.T) {
	src := models.TagSources{Case: []string{"b", "a"}, Goods: [][]string{{"c"}}}
	assert.Equal(t, Extract(src).Slice(), Extract(src).Slice())
}

func TestSubset(t *testing.T) {
	caseSet := FromTags([]string{"a", "b", "c"})
	assert.True(t, FromTags(nil).IsSubsetOf(caseSet), "empty rule set always matches")
	assert.True(t, FromTags([]string{"a", "c"}).IsSubsetOf(caseSet))
	assert.False(t, FromTags([]string{"a", "d"}).IsSubsetOf(caseSet))
	assert.False(t, FromTags([]string{"a"}).IsSubsetOf(FromTags(nil)))
}
