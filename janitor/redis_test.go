package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/crowdauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickExpiresRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := session.NewRedisStore(rdb, "janitor")
	ctx := context.Background()

	now := fixedNow
	require.NoError(t, store.Save(ctx, "expired", "t1", now.Add(-time.Second)))
	require.NoError(t, store.Save(ctx, "live", "t2", now.Add(time.Minute)))

	clock := now
	r := New(nil, store, nil, Config{Now: func() time.Time { return clock }}, nil)

	res := r.Tick(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.SessionsCleared)

	_, err := store.FindByRefreshToken(ctx, "expired", "t1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.FindByRefreshToken(ctx, "live", "t2")
	assert.NoError(t, err)

	clock = now.Add(time.Minute)
	res = r.Tick(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.SessionsCleared, "expiry equal to now is cleared")
}
