package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotContract(t *testing.T, slot Slot) {
	ctx := context.Background()
	_, err := slot.Read(ctx)
	assert.ErrorIs(t, err, ErrSlotEmpty)

	require.NoError(t, slot.Write(ctx, []byte(`{"epsilon":0.5}`)))
	require.NoError(t, slot.Write(ctx, []byte(`{"epsilon":0.4}`)))
	data, err := slot.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"epsilon":0.4}`, string(data))
}

func TestFileSlot(t *testing.T) {
	slotContract(t, NewFileSlot(filepath.Join(t.TempDir(), "nested", "agent.json")))
}

func TestRedisSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	slotContract(t, NewRedisSlot(client, "paddle:agent", 0))
	assert.True(t, mr.Exists("paddle:agent"))
}

func TestRedisSlot_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	slot := NewRedisSlot(client, "paddle:agent", time.Minute)

	require.NoError(t, slot.Write(context.Background(), []byte(`{}`)))
	mr.FastForward(2 * time.Minute)
	_, err := slot.Read(context.Background())
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestRedisSlot_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err := NewRedisSlot(client, "k", 0).Read(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotEmpty)
}

func TestNopSlot(t *testing.T) {
	var s NopSlot
	require.NoError(t, s.Write(context.Background(), []byte("x")))
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, ErrSlotEmpty)
}
