package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRandomManager(t *testing.T) {
	m, err := NewRandomManager()
	require.NoError(t, err)

	k := m.Current()
	assert.Equal(t, uint32(1), k.Version)
	assert.Len(t, k.Secret, MasterKeySize)
	assert.False(t, k.CreatedAt.IsZero())
}

func TestNewStaticManager(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewStaticManager(secret)
	require.NoError(t, err)
	assert.Equal(t, secret, m.Current().Secret)

	_, err = NewStaticManager([]byte("short"))
	assert.Error(t, err)
}

func TestManager_Rotate(t *testing.T) {
	m, err := NewRandomManager()
	require.NoError(t, err)

	first := m.Current()

	rotated, err := m.Rotate()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rotated.Version)
	assert.Equal(t, rotated.Version, m.Current().Version)
	assert.NotEqual(t, first.Secret, rotated.Secret)

	// Old versions stay resolvable after rotation
	old, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, first.Secret, old.Secret)

	_, ok = m.Get(99)
	assert.False(t, ok)
}

func TestManager_DeriveFor(t *testing.T) {
	m, err := NewStaticManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	a, err := m.DeriveFor("cache-lookup", 1)
	require.NoError(t, err)
	assert.Len(t, a, MasterKeySize)

	// Deterministic per (purpose, version)
	b, err := m.DeriveFor("cache-lookup", 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Different purposes give independent subkeys
	c, err := m.DeriveFor("audit-signing", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = m.DeriveFor("cache-lookup", 42)
	assert.Error(t, err)
}
