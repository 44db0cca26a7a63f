package labmodular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	a := providerClass("A", "", nil)
	b := providerClass("B", "", nil)
	cat, err := NewCatalog(b, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, cat.Names())

	got, err := cat.Lookup("A")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = cat.Lookup("C")
	assert.ErrorIs(t, err, ErrClassNotFound)
	assert.ErrorIs(t, cat.Add(providerClass("A", "", nil)), ErrClassAlreadyInCatalog)
	assert.ErrorIs(t, cat.Add(nil), ErrClassNil)

	_, err = NewCatalog(a, a)
	assert.ErrorIs(t, err, ErrClassAlreadyInCatalog)
}
