package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Dependencies enumerates the shared infrastructure of the storefront process.
type Dependencies struct {
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
	TaskClient   *asynq.Client
}

// NewRedis connects to Redis with tracing instrumentation and checks the
// connection.
func NewRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "checkout:ratelimit"})
}

// NewTaskClient builds an asynq client on the same Redis as the storefront.
func NewTaskClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTaskServer builds an asynq server consuming the given queue.
func NewTaskServer(redisURL, queue string, concurrency int, logger zerolog.Logger) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
		}),
		BaseContext: func() context.Context { return logger.WithContext(context.Background()) },
	}), nil
}
