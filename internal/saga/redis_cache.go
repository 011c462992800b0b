package saga

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "GigFlow/internal/errors"
	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 24 * time.Hour

// RedisCacheConfig 描述 Redis 缓存的连接参数。
type RedisCacheConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache 用 Redis 按 task_id 镜像任务状态，作为主存储之上的
// 快速读取层。
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存实例。
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gigflow:saga:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "连接 Redis 失败")
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Put 把任务状态序列化后写入缓存。
func (c *RedisCache) Put(ctx context.Context, state *TaskState) error {
	if state == nil || state.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	doc, err := json.Marshal(state)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "序列化任务状态失败")
	}
	if err := c.client.Set(ctx, c.prefix+state.TaskID, doc, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "写入 Redis 失败")
	}
	return nil
}

// Get 读取缓存中的任务状态，未命中时返回 ErrTaskNotFound。
func (c *RedisCache) Get(ctx context.Context, taskID string) (*TaskState, error) {
	doc, err := c.client.Get(ctx, c.prefix+taskID).Result()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "读取 Redis 失败")
	}
	return decodeState(doc)
}

// Delete 移除缓存条目。
func (c *RedisCache) Delete(ctx context.Context, taskID string) error {
	if err := c.client.Del(ctx, c.prefix+taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "删除 Redis 缓存失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ StateCache = (*RedisCache)(nil)
