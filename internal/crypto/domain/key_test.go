package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(createdAt time.Time) EncryptionKey {
	return EncryptionKey{
		ID:        uuid.Must(uuid.NewV7()),
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		Salt:      []byte("0123456789abcdef"),
		CreatedAt: createdAt,
	}
}

func TestKeyRing_PrimaryAndPrepend(t *testing.T) {
	now := time.Now().UTC()
	ring := NewKeyRing()

	_, ok := ring.Primary()
	assert.False(t, ok)

	first := newTestKey(now.Add(-time.Hour))
	second := newTestKey(now)
	ring.Prepend(first)
	ring.Prepend(second)

	primary, ok := ring.Primary()
	require.True(t, ok)
	assert.Equal(t, second.ID, primary.ID)
	assert.Equal(t, 2, ring.Len())
	assert.Equal(t, first.ID, ring.At(1).ID)
}

func TestKeyRing_PrependBlockKeepsOrder(t *testing.T) {
	now := time.Now().UTC()
	existing := newTestKey(now.Add(-time.Hour))
	ring := NewKeyRing(existing)

	a, b := newTestKey(now), newTestKey(now)
	ring.Prepend(a, b)

	require.Equal(t, 3, ring.Len())
	primary, _ := ring.Primary()
	assert.Equal(t, a.ID, primary.ID)
	assert.Equal(t, b.ID, ring.At(1).ID)
	assert.Equal(t, existing.ID, ring.At(2).ID)
}

func TestKeyRing_Prune(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	t.Run("removes all keys older than expiry", func(t *testing.T) {
		fresh := newTestKey(now.Add(-1 * day))
		old := newTestKey(now.Add(-40 * day))
		older := newTestKey(now.Add(-50 * day))
		ring := NewKeyRing(fresh, old, older)

		evicted := ring.Prune(now, 30*day, 10)

		assert.Equal(t, 1, ring.Len())
		assert.Equal(t, fresh.ID, ring.At(0).ID)
		assert.Len(t, evicted, 2)
	})

	t.Run("caps list at max keys evicting oldest", func(t *testing.T) {
		k1 := newTestKey(now)
		k2 := newTestKey(now.Add(-1 * day))
		k3 := newTestKey(now.Add(-2 * day))
		k4 := newTestKey(now.Add(-3 * day))
		ring := NewKeyRing(k1, k2, k3, k4)

		evicted := ring.Prune(now, 30*day, 2)

		require.Equal(t, 2, ring.Len())
		assert.Equal(t, k1.ID, ring.At(0).ID)
		assert.Equal(t, k2.ID, ring.At(1).ID)
		require.Len(t, evicted, 2)
		assert.Equal(t, k3.ID, evicted[0].ID)
		assert.Equal(t, k4.ID, evicted[1].ID)
	})

	t.Run("expiry and max keys apply independently", func(t *testing.T) {
		k1 := newTestKey(now)
		k2 := newTestKey(now.Add(-1 * day))
		k3 := newTestKey(now.Add(-2 * day))
		expired := newTestKey(now.Add(-100 * day))
		ring := NewKeyRing(k1, k2, expired, k3)

		evicted := ring.Prune(now, 30*day, 2)

		assert.Equal(t, 2, ring.Len())
		assert.Len(t, evicted, 2)
	})

	t.Run("may empty the ring when every key expired", func(t *testing.T) {
		ring := NewKeyRing(newTestKey(now.Add(-100 * day)))
		ring.Prune(now, 30*day, 5)
		assert.Equal(t, 0, ring.Len())
	})

	t.Run("zero limits disable pruning", func(t *testing.T) {
		ring := NewKeyRing(newTestKey(now.Add(-100*day)), newTestKey(now.Add(-200*day)))
		evicted := ring.Prune(now, 0, 0)
		assert.Empty(t, evicted)
		assert.Equal(t, 2, ring.Len())
	})
}

func TestKeyRing_NearingExpiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	young := newTestKey(now.Add(-10 * day))
	aging := newTestKey(now.Add(-80 * day))
	ring := NewKeyRing(young, aging)

	near := ring.NearingExpiry(now, 90*day, NearExpiryRatio)

	require.Len(t, near, 1)
	assert.Equal(t, aging.ID, near[0].ID)
	assert.Empty(t, ring.NearingExpiry(now, 0, NearExpiryRatio))
}

func TestKeyRing_CloneAndClose(t *testing.T) {
	key := newTestKey(time.Now())
	ring := NewKeyRing(key)
	clone := ring.Clone()

	ring.Close()

	assert.Equal(t, 0, ring.Len())
	assert.Equal(t, make([]byte, 32), key.Key, "closing zeroes shared key bytes")
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), clone.At(0).Key)
}

func TestEncryptionKey_Wipe(t *testing.T) {
	key := newTestKey(time.Now())
	key.Wipe()
	assert.Equal(t, make([]byte, KeySize), key.Key)

	var empty EncryptionKey
	assert.NotPanics(t, empty.Wipe)
}
