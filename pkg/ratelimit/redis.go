package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript は上限未満の場合のみINCRする。
// 初回のINCRでウィンドウ長のPEXPIREを設定する。
// KEYS[1] = key, ARGV[1] = limit, ARGV[2] = window(ms)
// 戻り値: {allowed(0|1), count, pttl(ms)}
var takeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// defaultRedisPrefix はキーに付与するデフォルトのプレフィックス。
const defaultRedisPrefix = "fleetgate:ratelimit:"

// RedisStore はRedisにカウンタを保持する Store 実装。
// 複数のgatewayプロセスでカウンタを共有する場合に使用する。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore は新しい RedisStore を生成する。prefixが空の場合はデフォルト値を使う。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("Redisカウンタの更新に失敗: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("Redisスクリプトの戻り値が不正: %v", res)
	}

	remaining := time.Duration(res[2]) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	now := s.now()
	d := Decision{
		Allowed: res[0] == 1,
		Entry: Entry{
			Key:         key,
			WindowStart: now.Add(remaining - window),
			Count:       int(res[1]),
		},
	}
	if !d.Allowed {
		d.RetryAfter = remaining
	}
	return d, nil
}

// Reset implements Store. プレフィックスに一致するキーをすべて削除する。
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("Redisキーの走査に失敗: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("Redisキーの削除に失敗: %w", err)
	}
	return nil
}
