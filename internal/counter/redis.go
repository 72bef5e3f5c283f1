package counter

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs counters with a shared Redis instance so limits hold
// across horizontally scaled replicas. Fixed windows map to INCRBY on a
// bucket-suffixed key; sliding windows use a sorted set trimmed to the
// lookback.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
	seq    atomic.Int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Incr(ctx context.Context, key string, w Window) (int64, error) {
	return s.Add(ctx, key, 1, w)
}

func (s *RedisStore) Add(ctx context.Context, key string, delta int64, w Window) (int64, error) {
	now := s.now().UTC()
	if w.Mode == ModeFixed {
		bucketKey := s.fixedKey(key, w, now)
		pipe := s.client.TxPipeline()
		count := pipe.IncrBy(ctx, bucketKey, delta)
		// keep the key one extra window beyond its boundary so Get on a
		// just-expired bucket still reads zero via the bucket suffix
		pipe.Expire(ctx, bucketKey, 2*w.Size)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return count.Val(), nil
	}

	zkey := s.slidingKey(key, w)
	cutoff := float64(now.Add(-w.Size).UnixNano())
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", formatScore(cutoff))
	score := float64(now.UnixNano())
	for i := int64(0); i < delta; i++ {
		member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatInt(s.seq.Add(1), 10)
		pipe.ZAdd(ctx, zkey, redis.Z{Score: score, Member: member})
	}
	card := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, w.Size+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return card.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string, w Window) (int64, error) {
	now := s.now().UTC()
	if w.Mode == ModeFixed {
		val, err := s.client.Get(ctx, s.fixedKey(key, w, now)).Int64()
		if err == redis.Nil {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return val, nil
	}

	zkey := s.slidingKey(key, w)
	cutoff := float64(now.Add(-w.Size).UnixNano())
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", formatScore(cutoff))
	card := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return card.Val(), nil
}

func (s *RedisStore) fixedKey(key string, w Window, now time.Time) string {
	return "scanguard:" + key + ":" + w.Bucket(now)
}

func (s *RedisStore) slidingKey(key string, w Window) string {
	return "scanguard:" + key + ":" + w.Bucket(time.Time{})
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
