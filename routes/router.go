package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"partypick-backend/auth"
	"partypick-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// SetupRouter 设置和配置Gin路由
func SetupRouter() *gin.Engine {
	// 创建Gin路由器
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Session-Id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 初始化限流器
	handlers.InitRateLimiters()

	// 定义API路由
	api := router.Group("/api")
	{
		// 会话标识与全局API限流中间件
		api.Use(auth.SessionMiddleware())
		api.Use(handlers.RateLimitMiddleware())

		// 健康检查端点
		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", handlers.SystemStatus)
		api.GET("/queue/stats", handlers.QueueStatus)
		api.GET("/ratelimit/stats", handlers.GetRateLimiterStats)

		// 派对管理端点
		parties := api.Group("/parties")
		{
			parties.POST("", handlers.CreateParty)
			parties.GET("/:code", handlers.GetParty)

			// 氛围
			parties.POST("/:code/vibes", handlers.AddVibe)
			parties.GET("/:code/vibes", handlers.GetVibes)

			// 候选池
			parties.POST("/:code/restaurants", handlers.AddRestaurants)
			parties.GET("/:code/restaurants", handlers.GetRestaurants)
			parties.POST("/:code/restaurants/:id/vote", handlers.VoteRestaurant)

			// 投票轮次
			parties.GET("/:code/voting", handlers.GetVotingCandidates)
			parties.POST("/:code/voting/select", handlers.SelectVotingCandidates)
			parties.POST("/:code/voting/add", handlers.AddVotingCandidate)
			parties.POST("/:code/voting/remove", handlers.RemoveVotingCandidate)
			parties.POST("/:code/voting/clear", handlers.ClearVotingCandidates)
			parties.POST("/:code/voting/ballot", handlers.SubmitBallot)
			parties.POST("/:code/voting/:id/vote", handlers.VoteCandidate)

			// 实时更新端点（SSE和WebSocket）
			parties.GET("/:code/events", handlers.HandleSSE)
			parties.GET("/:code/ws", handlers.HandleWebSocket)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine) *Server {
	// 从环境变量获取端口，默认为8090
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}

	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	// 在单独的goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
