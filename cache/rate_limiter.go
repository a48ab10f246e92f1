package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 判断请求是否允许通过
	Allow(ctx context.Context) (bool, error)
}

// TokenBucketRateLimiter 令牌桶限流器实现
type TokenBucketRateLimiter struct {
	redisClient RedisClient
	key         string
	rate        int // 每秒生成的令牌数量
	burst       int // 令牌桶最大容量
}

// NewTokenBucketRateLimiter 创建新的令牌桶限流器
func NewTokenBucketRateLimiter(client RedisClient, key string, rate, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		redisClient: client,
		key:         fmt.Sprintf("rate_limit:%s", key),
		rate:        rate,
		burst:       burst,
	}
}

// Allow 判断请求是否允许通过
func (l *TokenBucketRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	// 令牌桶算法的Lua脚本
	script := `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])
	local period = 1 -- 1秒为单位

	-- 获取当前桶中的令牌数和上次更新时间
	local tokens_key = key .. ":tokens"
	local timestamp_key = key .. ":ts"

	local tokens = tonumber(redis.call("get", tokens_key) or burst)
	local last_update = tonumber(redis.call("get", timestamp_key) or 0)

	-- 计算距离上次更新经过的时间，添加相应的令牌
	local elapsed = math.max(0, now - last_update)
	local new_tokens = math.min(burst, tokens + elapsed * rate)

	-- 判断是否有足够的令牌
	if new_tokens < 1 then
		return 0
	end

	-- 消耗一个令牌
	new_tokens = new_tokens - 1

	-- 更新令牌数和时间戳
	redis.call("setex", tokens_key, period * 2, new_tokens)
	redis.call("setex", timestamp_key, period * 2, now)

	return 1
	`

	now := time.Now().Unix()
	keys := []string{l.key}
	args := []interface{}{now, l.rate, l.burst}

	result, err := l.redisClient.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return false, err
	}

	return result.(int64) == 1, nil
}

// SessionRateLimiter 会话级别限流器，每个参与者会话有自己的令牌桶
type SessionRateLimiter struct {
	redisClient   RedisClient
	globalLimiter RateLimiter
	keyPrefix     string
	rate          int
	burst         int

	mu       sync.Mutex
	limiters map[string]RateLimiter
}

// NewSessionRateLimiter 创建新的会话级别限流器
func NewSessionRateLimiter(client RedisClient, keyPrefix string, globalRate, globalBurst, sessionRate, sessionBurst int) *SessionRateLimiter {
	return &SessionRateLimiter{
		redisClient:   client,
		globalLimiter: NewTokenBucketRateLimiter(client, keyPrefix+":global", globalRate, globalBurst),
		keyPrefix:     keyPrefix,
		rate:          sessionRate,
		burst:         sessionBurst,
		limiters:      make(map[string]RateLimiter),
	}
}

// getSessionLimiter 获取某个会话的限流器
func (l *SessionRateLimiter) getSessionLimiter(sessionID string) RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[sessionID]; ok {
		return limiter
	}

	limiter := NewTokenBucketRateLimiter(l.redisClient, l.keyPrefix+":session:"+sessionID, l.rate, l.burst)
	l.limiters[sessionID] = limiter
	return limiter
}

// AllowSession 判断某个会话的请求是否允许通过
func (l *SessionRateLimiter) AllowSession(ctx context.Context, sessionID string) (bool, error) {
	// 先检查全局限流
	allowed, err := l.globalLimiter.Allow(ctx)
	if err != nil || !allowed {
		if err != nil {
			log.Printf("全局限流检查失败: %v", err)
		}
		return allowed, err
	}

	// 再检查会话级别限流
	return l.getSessionLimiter(sessionID).Allow(ctx)
}
