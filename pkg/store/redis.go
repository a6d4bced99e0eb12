package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/logging"
)

// RedisConfig holds Redis artifact storage configuration
type RedisConfig struct {
	RedisURL        string `json:"redis_url" yaml:"redis_url"`
	KeyPrefix       string `json:"key_prefix" yaml:"key_prefix"`
	DatabaseNum     int    `json:"database_num" yaml:"database_num"`
	KeepGenerations int    `json:"keep_generations" yaml:"keep_generations"`
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		RedisURL:        "redis://localhost:6379",
		KeyPrefix:       "spamlens:artifacts",
		DatabaseNum:     0,
		KeepGenerations: 3,
	}
}

// RedisStore keeps pairs in Redis. Both blobs and the current pointer are
// written in one MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	config *RedisConfig
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	logger = logging.OrNop(logger)
	if config.KeepGenerations < 1 {
		config.KeepGenerations = 1
	}

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.DB = config.DatabaseNum
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, config: config, logger: logger}, nil
}

func (s *RedisStore) currentKey() string     { return s.config.KeyPrefix + ":current" }
func (s *RedisStore) generationsKey() string { return s.config.KeyPrefix + ":generations" }

func (s *RedisStore) blobKey(runID, kind string) string {
	return fmt.Sprintf("%s:gen:%s:%s", s.config.KeyPrefix, runID, kind)
}

// Save writes the pair atomically and trims old generations.
func (s *RedisStore) Save(ctx context.Context, pair Pair) error {
	if err := validatePair(pair); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.blobKey(pair.RunID, "vectorizer"), pair.Vectorizer, 0)
		pipe.Set(ctx, s.blobKey(pair.RunID, "classifier"), pair.Classifier, 0)
		pipe.Set(ctx, s.currentKey(), pair.RunID, 0)
		pipe.LPush(ctx, s.generationsKey(), pair.RunID)
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.currentKey(), Err: err}
	}
	s.logger.Info("artifact pair saved", zap.String("run_id", pair.RunID), zap.String("backend", "redis"))

	s.prune(ctx)
	return nil
}

// Load reads the current pair.
func (s *RedisStore) Load(ctx context.Context) (Pair, error) {
	runID, err := s.client.Get(ctx, s.currentKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, &PersistenceError{Op: "load", Path: s.currentKey(), Err: err}
	}

	vals, err := s.client.MGet(ctx, s.blobKey(runID, "vectorizer"), s.blobKey(runID, "classifier")).Result()
	if err != nil {
		return Pair{}, &PersistenceError{Op: "load", Path: s.blobKey(runID, "*"), Err: err}
	}
	pair := Pair{RunID: runID}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return Pair{}, &PersistenceError{Op: "load", Path: s.blobKey(runID, "*"),
				Err: fmt.Errorf("generation %s is incomplete", runID)}
		}
		if i == 0 {
			pair.Vectorizer = []byte(str)
		} else {
			pair.Classifier = []byte(str)
		}
	}
	return pair, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) prune(ctx context.Context) {
	keep := int64(s.config.KeepGenerations)
	stale, err := s.client.LRange(ctx, s.generationsKey(), keep, -1).Result()
	if err != nil {
		s.logger.Warn("failed to list generations", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	pipe := s.client.Pipeline()
	for _, runID := range stale {
		pipe.Del(ctx, s.blobKey(runID, "vectorizer"), s.blobKey(runID, "classifier"))
	}
	pipe.LTrim(ctx, s.generationsKey(), 0, keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to prune generations", zap.Error(err))
	}
}
