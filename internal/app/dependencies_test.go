package app_test

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-checkout/internal/app"
)

func TestNewRedisAndLimiterStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := app.NewRedis(context.Background(), "redis://"+mr.Addr()+"/0", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := app.NewLimiterStore(client)
	require.NoError(t, err)
	rate, err := limiter.NewRateFromFormatted("2-M")
	require.NoError(t, err)
	lctx, err := limiter.New(store, rate).Get(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.EqualValues(t, 1, lctx.Remaining)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := app.NewRedis(context.Background(), "::not a url", zerolog.Nop())
	require.Error(t, err)
}

func TestNewTaskClientAndServer(t *testing.T) {
	client, err := app.NewTaskClient("redis://127.0.0.1:6379/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	srv, err := app.NewTaskServer("redis://127.0.0.1:6379/0", "checkout", 2, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, srv)

	_, err = app.NewTaskClient("http://nope")
	require.Error(t, err)
}
