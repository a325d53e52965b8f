package admission

import (
    "context"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/park285/cheese-relay/internal/obslog"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

const keyPrefix = "relay:conns:"

// Redis shares slot counts between relay instances. Each key carries a TTL so
// counts leaked by a crashed instance expire.
type Redis struct {
    rdb *redis.Client
    max int
    ttl time.Duration
}

// NewRedis connects to redisURL (redis:// or rediss://) and pings it.
func NewRedis(ctx context.Context, redisURL string, max int, ttl time.Duration) (*Redis, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for redis admission")
    }
    opts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewRedisWithClient(rdb, max, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, max int, ttl time.Duration) *Redis {
    if ttl <= 0 { ttl = time.Hour }
    return &Redis{rdb: rdb, max: max, ttl: ttl}
}

func (r *Redis) Close() error {
    if r == nil || r.rdb == nil { return nil }
    return r.rdb.Close()
}

func (r *Redis) key(k string) string { return keyPrefix + strings.TrimSpace(k) }

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
    k := r.key(key)
    pipe := r.rdb.TxPipeline()
    incr := pipe.Incr(ctx, k)
    pipe.Expire(ctx, k, r.ttl)
    if _, err := pipe.Exec(ctx); err != nil {
        return nil, fmt.Errorf("admission incr: %w", err)
    }
    if incr.Val() > int64(r.max) {
        r.decr(k)
        return nil, ErrLimited
    }
    return onceFunc(func() { r.decr(k) }), nil
}

// InUse returns the shared slot count for key.
func (r *Redis) InUse(ctx context.Context, key string) (int, error) {
    n, err := r.rdb.Get(ctx, r.key(key)).Int()
    if err == redis.Nil { return 0, nil }
    return n, err
}

// decr runs detached from the request context, which is usually already done
// when a connection is released.
func (r *Redis) decr(k string) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    n, err := r.rdb.Decr(ctx, k).Result()
    if err != nil {
        obslog.L().Warn("relay_admission_release_failed", zap.String("key", k), zap.Error(err))
        return
    }
    if n <= 0 {
        _ = r.rdb.Del(ctx, k).Err()
    }
}

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" {
        n, err := strconv.Atoi(p)
        if err != nil { return nil, fmt.Errorf("invalid redis db %q", p) }
        db = n
    }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
