package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	registry.Register("stub", func() Adapter { return &stubAdapter{name: "stub"} })

	factory, err := registry.Get("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", factory().Name())
}

func TestRegistry_GetNotFound(t *testing.T) {
	registry := NewRegistry()

	factory, err := registry.Get("missing")
	assert.Error(t, err)
	assert.Nil(t, factory)
	assert.Contains(t, err.Error(), "is not registered")
}

func TestRegistry_CreateReturnsFreshInstances(t *testing.T) {
	registry := NewRegistry()
	registry.Register("stub", func() Adapter { return &stubAdapter{name: "stub"} })

	a, err := registry.Create("stub")
	require.NoError(t, err)
	b, err := registry.Create("stub")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_NamesSorted(t *testing.T) {
	registry := NewRegistry()
	assert.Empty(t, registry.Names())

	factory := func() Adapter { return nil }
	registry.Register("stripe", factory)
	registry.Register("example", factory)
	registry.Register("paypal", factory)

	assert.Equal(t, []string{"example", "paypal", "stripe"}, registry.Names())
}
