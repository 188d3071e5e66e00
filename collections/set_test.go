package collections_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zircuit-labs/zkr-go-thunk/collections"
)

func TestSet(t *testing.T) {
	t.Parallel()

	s := collections.NewSet("a", "b")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))

	assert.True(t, s.Insert("c"))
	assert.False(t, s.Insert("c"))

	s.Remove("a")
	assert.ElementsMatch(t, []string{"b", "c"}, s.Members())

	s.Add("d", "d")
	assert.Len(t, s, 3)
}
