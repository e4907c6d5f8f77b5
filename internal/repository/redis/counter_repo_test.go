package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounterRepo(t *testing.T) (*CounterRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo, err := NewCounterRepo(client)
	require.NoError(t, err)
	return repo, mr
}

func TestCounterRepo_NilClient(t *testing.T) {
	_, err := NewCounterRepo(nil)
	assert.Error(t, err)
}

func TestCounterRepo_IncrementSequence(t *testing.T) {
	repo, _ := newTestCounterRepo(t)

	for want := int64(1); want <= 5; want++ {
		count, err := repo.IncrementWithTTL("rl:test:key", 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
}

// TTL устанавливается только первым инкрементом и не продлевается
// последующими: окно фиксированное, не скользящее.
func TestCounterRepo_TTLSetOnce(t *testing.T) {
	repo, mr := newTestCounterRepo(t)

	_, err := repo.IncrementWithTTL("rl:test:key", 30*time.Second)
	require.NoError(t, err)

	mr.FastForward(20 * time.Second)
	_, err = repo.IncrementWithTTL("rl:test:key", 30*time.Second)
	require.NoError(t, err)

	remaining, err := repo.TimeRemaining("rl:test:key")
	require.NoError(t, err)
	assert.LessOrEqual(t, remaining, 10*time.Second)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestCounterRepo_ResetsAfterWindow(t *testing.T) {
	repo, mr := newTestCounterRepo(t)

	count, err := repo.IncrementWithTTL("rl:test:key", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	mr.FastForward(31 * time.Second)

	count, err = repo.IncrementWithTTL("rl:test:key", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "counter must restart after the window closes")
}

func TestCounterRepo_TimeRemainingMissingKey(t *testing.T) {
	repo, _ := newTestCounterRepo(t)

	remaining, err := repo.TimeRemaining("rl:missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestCounterRepo_IndependentKeys(t *testing.T) {
	repo, _ := newTestCounterRepo(t)

	_, err := repo.IncrementWithTTL("rl:a", 30*time.Second)
	require.NoError(t, err)
	count, err := repo.IncrementWithTTL("rl:b", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
