package roles

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
)

// RedisConfig holds the role directory connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	CacheTTL  time.Duration
}

// SetReader is the slice of the redis client the resolver needs
type SetReader interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

type cachedMembers struct {
	ids     []string
	expires time.Time
}

// RedisResolver reads role membership from redis sets named <prefix><role>.
// Results are cached locally for CacheTTL. Roles with no set fall back to the fallback resolver.
type RedisResolver struct {
	client   SetReader
	prefix   string
	ttl      time.Duration
	fallback port.RoleResolver
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedMembers
}

var _ port.RoleResolver = (*RedisResolver)(nil)

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisResolver creates a resolver over client. fallback may be nil.
func NewRedisResolver(client SetReader, cfg RedisConfig, fallback port.RoleResolver, logger *zap.Logger) *RedisResolver {
	return &RedisResolver{
		client:   client,
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.CacheTTL,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cachedMembers),
	}
}

func (r *RedisResolver) ResolveApprovers(ctx context.Context, role string) ([]string, error) {
	if ids, ok := r.cached(role); ok {
		return ids, nil
	}

	ids, err := r.client.SMembers(ctx, r.prefix+role).Result()
	if err != nil {
		r.logger.Error("Failed to read role members", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to read members of role %s: %w", role, err)
	}
	if len(ids) == 0 && r.fallback != nil {
		r.logger.Debug("Role not in redis, using fallback", zap.String("role", role))
		return r.fallback.ResolveApprovers(ctx, role)
	}

	ids = normalize(ids)
	sort.Strings(ids)
	r.store(role, ids)
	return append([]string(nil), ids...), nil
}

func (r *RedisResolver) cached(role string) ([]string, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[role]
	if !ok || r.now().After(entry.expires) {
		return nil, false
	}
	return append([]string(nil), entry.ids...), true
}

func (r *RedisResolver) store(role string, ids []string) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[role] = cachedMembers{ids: ids, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
}
