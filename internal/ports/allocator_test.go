package ports

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKnownVector(t *testing.T) {
	// MD5("eba77c68-6ef0-469a-9166-685829a4fa48")[:4] = 0x6c412939 -> 1816209721
	alloc := Derive("eba77c68-6ef0-469a-9166-685829a4fa48")

	assert.Equal(t, uint16(9721), alloc.System)
	assert.Equal(t, uint16(19721), alloc.Terminal)
	assert.Equal(t, uint16(19722), alloc.HTTPS)
}

func TestDeriveDeterministic(t *testing.T) {
	id := uuid.NewString()

	first := Derive(id)
	second := Derive(id)

	// Same node ID must yield the same triple, including across "reinstalls"
	// (a fresh call with no shared state).
	assert.Equal(t, first, second)
}

func TestDeriveRanges(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id := uuid.NewString()
		alloc := Derive(id)

		require.GreaterOrEqual(t, alloc.System, uint16(9000), "node %s", id)
		require.LessOrEqual(t, alloc.System, uint16(9999), "node %s", id)
		require.GreaterOrEqual(t, alloc.Terminal, uint16(10000), "node %s", id)
		require.LessOrEqual(t, alloc.Terminal, uint16(59999), "node %s", id)
		require.Equal(t, alloc.Terminal+1, alloc.HTTPS, "node %s", id)
	}
}

func TestDeriveZeroUUID(t *testing.T) {
	alloc := Derive("00000000-0000-0000-0000-000000000000")

	assert.Equal(t, uint16(9050), alloc.System)
	assert.Equal(t, uint16(17050), alloc.Terminal)
	assert.Equal(t, uint16(17051), alloc.HTTPS)
}
