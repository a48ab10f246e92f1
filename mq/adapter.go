package mq

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"partypick-backend/cache"
)

// MQAdapter 派对事件队列适配器。Redis可用时事件经由Redis List异步投递，
// 否则调用方退化为进程内直接分发。
type MQAdapter struct {
	redisEnabled bool
	redisMQ      *RedisMQ
	initOnce     sync.Once
	initialized  bool
}

// NewMQAdapter 创建新的消息队列适配器
func NewMQAdapter() *MQAdapter {
	return &MQAdapter{}
}

// Initialize 初始化消息队列，复用缓存层的Redis连接
func (a *MQAdapter) Initialize() error {
	var err error
	a.initOnce.Do(func() {
		client, clientErr := cache.GetClient()
		if clientErr != nil {
			log.Printf("Redis不可用，事件将进程内直接分发: %v", clientErr)
			err = clientErr
			return
		}

		a.redisMQ = NewRedisMQ(client)
		a.redisEnabled = true
		a.initialized = true
		log.Println("成功初始化Redis MQ")
	})

	return err
}

// RegisterHandler 注册事件处理函数并启动消费者
func (a *MQAdapter) RegisterHandler(handler func(partyCode string, event json.RawMessage) error) error {
	if !a.IsInitialized() {
		return fmt.Errorf("消息队列适配器未初始化")
	}

	a.redisMQ.RegisterHandler(handler)
	if err := a.redisMQ.Start(); err != nil {
		return fmt.Errorf("启动Redis MQ消费者失败: %v", err)
	}

	log.Println("已注册并启动 Redis MQ 消费者")
	return nil
}

// SendPartyEvent 发送派对事件
func (a *MQAdapter) SendPartyEvent(partyCode string, event json.RawMessage) error {
	if !a.IsInitialized() {
		return fmt.Errorf("消息队列适配器未初始化，无法发送消息")
	}
	return a.redisMQ.SendPartyEvent(partyCode, event)
}

// Close 关闭消息队列
func (a *MQAdapter) Close() {
	if a.redisEnabled && a.redisMQ != nil {
		a.redisMQ.Stop()
	}
	log.Println("消息队列已关闭")
}

// GetQueueStats 获取队列统计信息
func (a *MQAdapter) GetQueueStats() map[string]interface{} {
	stats := make(map[string]interface{})

	if !a.IsInitialized() {
		stats["status"] = "未初始化"
		return stats
	}

	stats["type"] = "Redis MQ"
	stats["status"] = "正常运行"
	stats["queues"] = a.redisMQ.GetQueueStats()
	return stats
}

// RetryDeadLetters 重试死信队列中的消息
func (a *MQAdapter) RetryDeadLetters() error {
	if !a.IsInitialized() {
		return fmt.Errorf("消息队列适配器未初始化")
	}
	return a.redisMQ.RetryDeadLetters()
}

// IsInitialized 检查适配器是否已初始化
func (a *MQAdapter) IsInitialized() bool {
	return a.initialized && a.redisEnabled
}
