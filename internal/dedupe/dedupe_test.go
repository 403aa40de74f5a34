package dedupe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimOnce(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "wamid.A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Claim(ctx, "wamid.B")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryClaimExpires(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "a")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = s.Claim(ctx, "a")
	assert.False(t, ok)

	now = now.Add(31 * time.Second)
	ok, _ = s.Claim(ctx, "a")
	assert.True(t, ok)
}

func TestMemorySweepsExpiredIDs(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = s.Claim(ctx, fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 10, s.Len())

	now = now.Add(2 * time.Minute)
	_, _ = s.Claim(ctx, "fresh")
	assert.Equal(t, 1, s.Len())
}

type errStore struct{}

func (errStore) Claim(context.Context, string) (bool, error) { return false, errors.New("down") }
func (errStore) Release(context.Context, string) error       { return errors.New("down") }
func (errStore) Close() error                                { return nil }

func TestMemoryReleaseAllowsRedelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	ok, _ := s.Claim(ctx, "wamid.A")
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, "wamid.A"))
	assert.Equal(t, 0, s.Len())

	ok, _ = s.Claim(ctx, "wamid.A")
	assert.True(t, ok)
	assert.NoError(t, s.Release(ctx, "never-claimed"))
}

func TestShouldProcess(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore(0)

	assert.True(t, ShouldProcess(ctx, mem, "x"))
	assert.False(t, ShouldProcess(ctx, mem, "x"))
	assert.True(t, ShouldProcess(ctx, mem, ""))
	assert.True(t, ShouldProcess(ctx, nil, "x"))
	assert.True(t, ShouldProcess(ctx, errStore{}, "x"))
}

func TestNewWithoutURLIsMemory(t *testing.T) {
	s, err := New(context.Background(), "  ", 0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.Equal(t, DefaultTTL, s.(*MemoryStore).ttl)
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	_, err := New(context.Background(), "mysql://nope", time.Hour)
	assert.ErrorContains(t, err, "invalid REDIS_URL")
}

func TestRedisClaimErrorIsReported(t *testing.T) {
	// Nothing listens on port 1, so the command fails and the caller fails open.
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	s := NewRedisStoreWithClient(rdb, time.Hour)
	defer s.Close()

	_, err := s.Claim(context.Background(), "wamid.A")
	assert.Error(t, err)
	assert.Error(t, s.Release(context.Background(), "wamid.A"))
	assert.True(t, ShouldProcess(context.Background(), s, "wamid.A"))
}
