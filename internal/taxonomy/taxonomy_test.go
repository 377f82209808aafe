package taxonomy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/taxonomy"
)

func TestDefaultTaxonomy(t *testing.T) {
	tax := taxonomy.Default()
	c, ok := tax.Lookup("cs.DL")
	require.True(t, ok)
	assert.Equal(t, "cs", c.Archive)
	assert.True(t, c.Active)
	assert.False(t, c.General)

	assert.True(t, tax.IsGeneral("physics.gen-ph"))
	assert.False(t, tax.IsActive("cs.NA"))
	assert.False(t, tax.IsActive("nope.XX"))
	assert.Equal(t, "hep-th", tax.Archive("hep-th"))
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := taxonomy.Parse([]byte("archives: {}\n"))
	require.Error(t, err)

	_, err = taxonomy.Parse([]byte("archives: [\n"))
	require.Error(t, err)
}

func TestCategoriesSorted(t *testing.T) {
	cats := taxonomy.Default().Categories()
	require.NotEmpty(t, cats)
	for i := 1; i < len(cats); i++ {
		assert.Less(t, cats[i-1].ID, cats[i].ID)
	}
}
