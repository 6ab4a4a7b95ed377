package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 配额状态快照的持久化接口。编排器跨进程重启时，
// 借助 Store 保留当日已累计的配额消耗。
type Store interface {
	// Save 保存指定层级的状态快照。
	Save(ctx context.Context, tier string, state State) error

	// Load 读取指定层级的状态快照；不存在时 ok 为 false。
	Load(ctx context.Context, tier string) (state *State, ok bool, err error)
}

// RedisStore 基于 Redis 的 Store 实现，JSON 序列化后按 key 存储。
// 快照带 48h TTL，隔日残留自动过期。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig Redis 連接配置。
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// NewRedisStore 创建 Redis 配额存储并校验连通性。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "videoflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "quota:",
	}, nil
}

// NewRedisStoreWithClient 复用已有客户端创建存储（测试用）。
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "videoflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "quota:"}
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(tier string) string {
	return s.keyPrefix + tier
}

// Save 实现 Store.Save。
func (s *RedisStore) Save(ctx context.Context, tier string, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal quota state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tier), data, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to save quota state: %w", err)
	}
	return nil
}

// Load 实现 Store.Load。
func (s *RedisStore) Load(ctx context.Context, tier string) (*State, bool, error) {
	data, err := s.client.Get(ctx, s.key(tier)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load quota state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal quota state: %w", err)
	}
	return &state, true, nil
}
