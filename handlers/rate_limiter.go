package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"

	"partypick-backend/auth"
	"partypick-backend/cache"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 全局限流器
var (
	globalLimiter     cache.RateLimiter
	sessionLimiter    *cache.SessionRateLimiter
	localLimiter      *rate.Limiter // Redis不可用时的进程内兜底
	rateLimitEnabled  bool
	rateLimiterConfig = RateLimiterConfig{
		GlobalRate:   100,
		GlobalBurst:  200,
		SessionRate:  10,
		SessionBurst: 20,
	}
	limitStatistics = make(map[string]int64)
	limitStatsLock  = &sync.RWMutex{}
)

// RateLimiterConfig 限流器配置结构
type RateLimiterConfig struct {
	Enabled      bool `json:"enabled"`
	GlobalRate   int  `json:"globalRate"`
	GlobalBurst  int  `json:"globalBurst"`
	SessionRate  int  `json:"sessionRate"`
	SessionBurst int  `json:"sessionBurst"`
}

// InitRateLimiters 初始化限流器
func InitRateLimiters() {
	if os.Getenv("ENABLE_RATE_LIMIT") == "true" {
		rateLimitEnabled = true
	}

	if globalRateStr := os.Getenv("GLOBAL_RATE_LIMIT"); globalRateStr != "" {
		if r, err := strconv.Atoi(globalRateStr); err == nil && r > 0 {
			rateLimiterConfig.GlobalRate = r
			rateLimiterConfig.GlobalBurst = r * 2
		}
	}

	if sessionRateStr := os.Getenv("SESSION_RATE_LIMIT"); sessionRateStr != "" {
		if r, err := strconv.Atoi(sessionRateStr); err == nil && r > 0 {
			rateLimiterConfig.SessionRate = r
			rateLimiterConfig.SessionBurst = r * 2
		}
	}

	rateLimiterConfig.Enabled = rateLimitEnabled

	if !rateLimitEnabled {
		return
	}

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		// Redis不可用时退化为进程内令牌桶
		log.Printf("Redis不可用，使用进程内限流器: %v", err)
		localLimiter = rate.NewLimiter(rate.Limit(rateLimiterConfig.GlobalRate), rateLimiterConfig.GlobalBurst)
		return
	}

	globalLimiter = cache.NewTokenBucketRateLimiter(
		redisClient,
		"global_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
	)

	sessionLimiter = cache.NewSessionRateLimiter(
		redisClient,
		"session_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
		rateLimiterConfig.SessionRate,
		rateLimiterConfig.SessionBurst,
	)

	log.Printf("限流器已初始化：全局速率=%d/秒，会话速率=%d/秒",
		rateLimiterConfig.GlobalRate, rateLimiterConfig.SessionRate)
}

// RateLimitMiddleware 限流中间件
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rateLimitEnabled {
			c.Next()
			return
		}

		limitStatsLock.Lock()
		limitStatistics["total"]++
		limitStatsLock.Unlock()

		// 进程内兜底限流
		if localLimiter != nil {
			if !localLimiter.Allow() {
				rejectRequest(c)
				return
			}
			allowRequest(c)
			return
		}

		if globalLimiter == nil {
			c.Next()
			return
		}

		// 全局限流检查
		allowed, err := globalLimiter.Allow(c)
		if err != nil || !allowed {
			rejectRequest(c)
			return
		}

		// 会话级别限流
		if sessionID := auth.ParticipantID(c); sessionID != "" && sessionLimiter != nil {
			allowed, err := sessionLimiter.AllowSession(c, sessionID)
			if err != nil || !allowed {
				rejectRequest(c)
				return
			}
		}

		allowRequest(c)
	}
}

func rejectRequest(c *gin.Context) {
	limitStatsLock.Lock()
	limitStatistics["rejected"]++
	limitStatsLock.Unlock()

	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
	c.Abort()
}

func allowRequest(c *gin.Context) {
	limitStatsLock.Lock()
	limitStatistics["allowed"]++
	limitStatsLock.Unlock()

	c.Next()
}

// GetRateLimiterStats 获取限流器状态
func GetRateLimiterStats(c *gin.Context) {
	limitStatsLock.RLock()
	stats := gin.H{
		"totalRequests":    limitStatistics["total"],
		"allowedRequests":  limitStatistics["allowed"],
		"rejectedRequests": limitStatistics["rejected"],
		"config":           rateLimiterConfig,
	}
	limitStatsLock.RUnlock()

	c.JSON(http.StatusOK, stats)
}
