package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partypick-backend/cache"
	"partypick-backend/database"
	"partypick-backend/handlers"
	"partypick-backend/mq"
	"partypick-backend/places"
	"partypick-backend/recommender"
	"partypick-backend/routes"

	_ "github.com/joho/godotenv/autoload"
)

// 全局消息队列适配器
var mqAdapter *mq.MQAdapter

func main() {
	// 初始化数据库连接
	err := database.InitDB()
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接初始化成功")

	// 初始化Redis连接
	err = cache.InitRedis()
	if err != nil {
		log.Printf("警告: Redis初始化失败: %v", err)
	}

	// 初始化分布式锁
	if cache.IsAvailable() {
		cache.InitDistLock()
	}

	// 初始化消息队列适配器
	mqAdapter = mq.NewMQAdapter()
	err = mqAdapter.Initialize()
	if err != nil {
		log.Printf("警告: 消息队列初始化失败，事件将进程内直接分发: %v", err)
	} else {
		// 消费者把队列中的事件分发给SSE和WebSocket客户端
		if err := mqAdapter.RegisterHandler(handlers.DeliverPartyEvent); err != nil {
			log.Printf("警告: 注册消息处理函数失败: %v", err)
		} else {
			log.Println("消息队列处理函数注册成功")
		}
	}

	// 将消息队列适配器和外部服务客户端传递给处理程序
	handlers.InitHandler(mqAdapter)
	handlers.InitProviders(places.NewClient(), recommender.NewClient())

	// 设置路由
	router := routes.SetupRouter()
	log.Println("路由设置完成")

	// 启动服务器
	srv := routes.StartServer(router)
	log.Println("服务器启动成功")

	// 输出消息队列状态
	log.Printf("消息队列状态: %v", mqAdapter.GetQueueStats())

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	// 关闭数据库和消息队列连接
	database.CloseDB()
	cache.CloseRedis()
	mqAdapter.Close()

	log.Println("服务器优雅关闭")
}
