package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PartyEventMessage 是经过队列投递的派对事件
type PartyEventMessage struct {
	PartyCode string          `json:"partyCode"`
	Event     json.RawMessage `json:"event"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId"`
}

// 消息队列的队列名称常量
const (
	MainQueueName       = "party_event_queue"       // 主队列
	ProcessingQueueName = "party_event_processing"  // 处理中队列
	DeadLetterQueueName = "party_event_dead_letter" // 死信队列
	RetriesHashName     = "party_event_retries"     // 重试次数记录
)

// RedisMQ是基于Redis List实现的派对事件队列
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	processHandler    func(partyCode string, event json.RawMessage) error
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration // 消息处理超时时间
	retryDelay        time.Duration // 重试延迟
	maxRetries        int           // 最大重试次数
}

// 创建新的基于Redis的消息队列
func NewRedisMQ(redisClient *redis.Client) *RedisMQ {
	return &RedisMQ{
		client:            redisClient,
		ctx:               context.Background(),
		isRunning:         false,
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        3,
	}
}

// 注册消息处理函数
func (r *RedisMQ) RegisterHandler(handler func(partyCode string, event json.RawMessage) error) {
	r.processHandler = handler
}

// SendPartyEvent 发送派对事件到主队列
func (r *RedisMQ) SendPartyEvent(partyCode string, event json.RawMessage) error {
	msg := PartyEventMessage{
		PartyCode: partyCode,
		Event:     event,
		Timestamp: time.Now().Unix(),
		MessageID: generateMessageID(partyCode),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	err = r.client.LPush(r.ctx, MainQueueName, jsonData).Err()
	if err != nil {
		return fmt.Errorf("发送消息到队列失败: %v", err)
	}

	return nil
}

// 启动消费者
func (r *RedisMQ) Start() error {
	if r.processHandler == nil {
		return fmt.Errorf("处理函数未注册")
	}

	if r.isRunning {
		return nil
	}

	r.isRunning = true
	log.Println("Redis消息队列消费者启动中...")

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.timeoutCheckLoop()

	log.Println("Redis消息队列消费者已启动")
	return nil
}

// 关闭消费者
func (r *RedisMQ) Stop() {
	if !r.isRunning {
		return
	}

	log.Println("正在关闭Redis消息队列消费者...")
	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	log.Println("Redis消息队列消费者已关闭")
}

// 主消费循环。单消费者串行出队，保证同一派对的事件顺序
func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			// 使用BRPOPLPUSH原子操作从主队列获取并移动到处理中队列
			result, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, 1*time.Second).Result()

			if err != nil {
				if err != redis.Nil { // 忽略超时错误
					log.Printf("从队列获取消息失败: %v", err)
				}
				continue
			}

			r.processMessage(result)
		}
	}
}

// 超时检查循环
func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// 检查处理中队列里滞留过久的消息
func (r *RedisMQ) checkTimeouts() {
	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Printf("获取处理中队列消息失败: %v", err)
		return
	}

	now := time.Now().Unix()

	for _, msgData := range messages {
		var msg PartyEventMessage
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("解析消息数据失败: %v", err)
			continue
		}

		if now-msg.Timestamp > int64(r.processingTimeout.Seconds()) {
			retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()

			if retries >= r.maxRetries {
				log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
				r.moveToDeadLetter(msgData)
			} else {
				r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

				msg.Timestamp = now
				updatedData, _ := json.Marshal(msg)

				r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)

				time.AfterFunc(r.retryDelay, func() {
					r.client.LPush(r.ctx, MainQueueName, updatedData)
					log.Printf("消息 %s 重新入队，重试次数: %d", msg.MessageID, retries+1)
				})
			}
		}
	}
}

// 处理单个消息
func (r *RedisMQ) processMessage(msgData string) {
	var msg PartyEventMessage
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("解析消息失败: %v", err)
		r.moveToDeadLetter(msgData)
		return
	}

	if err := r.processHandler(msg.PartyCode, msg.Event); err != nil {
		log.Printf("处理消息失败: %v", err)

		retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()

		if retries >= r.maxRetries {
			log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
			r.moveToDeadLetter(msgData)
			return
		}

		r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

		msg.Timestamp = time.Now().Unix()
		updatedData, _ := json.Marshal(msg)

		time.AfterFunc(r.retryDelay, func() {
			r.client.LPush(r.ctx, MainQueueName, updatedData)
			log.Printf("消息 %s 重新入队，重试次数: %d", msg.MessageID, retries+1)
		})
	}

	// 无论成功失败，都从处理中队列移除
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// 将消息移动到死信队列
func (r *RedisMQ) moveToDeadLetter(msgData string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// 生成唯一的消息ID
func generateMessageID(partyCode string) string {
	return fmt.Sprintf("party_mq_%s_%d", partyCode, time.Now().UnixNano())
}

// 重新处理死信队列中的消息
func (r *RedisMQ) RetryDeadLetters() error {
	messages, err := r.client.LRange(r.ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("获取死信队列消息失败: %v", err)
	}

	count := 0
	for _, msgData := range messages {
		err := r.client.LPush(r.ctx, MainQueueName, msgData).Err()
		if err != nil {
			log.Printf("重新入队消息失败: %v", err)
			continue
		}

		r.client.LRem(r.ctx, DeadLetterQueueName, 1, msgData)

		// 重置重试计数
		var msg PartyEventMessage
		if json.Unmarshal([]byte(msgData), &msg) == nil {
			r.client.HDel(r.ctx, RetriesHashName, msg.MessageID)
		}

		count++
	}

	log.Printf("成功将 %d 条消息从死信队列移回主队列", count)
	return nil
}

// 获取各队列的消息数量统计
func (r *RedisMQ) GetQueueStats() map[string]int64 {
	stats := make(map[string]int64)

	mainLen, _ := r.client.LLen(r.ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(r.ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(r.ctx, DeadLetterQueueName).Result()

	stats["main_queue"] = mainLen
	stats["processing_queue"] = procLen
	stats["dead_letter_queue"] = deadLen

	return stats
}

// 清空所有队列（仅用于测试）
func (r *RedisMQ) ClearAllQueues() error {
	err := r.client.Del(r.ctx, MainQueueName, ProcessingQueueName, DeadLetterQueueName, RetriesHashName).Err()
	if err != nil {
		return fmt.Errorf("清空队列失败: %v", err)
	}
	return nil
}
