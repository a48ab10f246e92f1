package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 客户端SSE连接管理
type SSEClient struct {
	PartyCode string
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan bool

	// 心跳goroutine和广播共用同一个ResponseWriter，写入必须串行
	writeMu sync.Mutex
}

// writeFrame 串行写入一个完整的SSE帧并刷新
func (client *SSEClient) writeFrame(frame string) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if _, err := fmt.Fprint(client.Writer, frame); err != nil {
		return err
	}
	client.Flusher.Flush()
	return nil
}

var (
	// sseClients存储所有SSE连接，按派对码进行分组
	sseClients      = make(map[string][]*SSEClient)
	sseClientsMutex = make(chan bool, 1) // 简单的互斥锁实现
)

// HandleSSE处理SSE连接请求
func HandleSSE(c *gin.Context) {
	code := c.Param("code")

	var party models.Party
	if err := database.DB.Where("code = ?", code).First(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Party not found"})
		} else {
			log.Printf("数据库错误: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		}
		return
	}

	// 设置SSE所需的HTTP头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming unsupported"})
		return
	}

	client := &SSEClient{
		PartyCode: code,
		Writer:    c.Writer,
		Flusher:   flusher,
		Done:      make(chan bool),
	}

	// 注册客户端
	sseClientsMutex <- true
	sseClients[code] = append(sseClients[code], client)
	<-sseClientsMutex

	log.Printf("已注册SSE客户端，派对: %s，客户端IP: %s", code, c.ClientIP())

	// 发送连接确认
	sendSSEEvent(client, gin.H{"type": EventConnected})

	// 设置定时发送心跳的goroutine
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	notify := c.Request.Context().Done()

	// 保持连接直到客户端断开
	go func() {
		for {
			select {
			case <-notify:
				log.Printf("SSE客户端已断开连接, 派对: %s", code)
				client.Done <- true
				return
			case <-client.Done:
				return
			case <-heartbeat.C:
				// 发送注释作为心跳
				if err := client.writeFrame(": ping\n\n"); err != nil {
					log.Printf("发送心跳失败，关闭连接: %v", err)
					client.Done <- true
					return
				}
			}
		}
	}()

	// 等待连接关闭
	<-client.Done

	unregisterSSEClient(client)
}

// 从列表中删除客户端
func unregisterSSEClient(client *SSEClient) {
	sseClientsMutex <- true
	defer func() { <-sseClientsMutex }()

	clients := sseClients[client.PartyCode]
	for i, c := range clients {
		if c == client {
			sseClients[client.PartyCode] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	// 如果该派对没有更多客户端，清理映射
	if len(sseClients[client.PartyCode]) == 0 {
		delete(sseClients, client.PartyCode)
	}

	log.Printf("已注销SSE客户端，派对 %s 当前连接数: %d", client.PartyCode, len(sseClients[client.PartyCode]))
}

// 向单个SSE客户端发送事件
func sendSSEEvent(client *SSEClient, data interface{}) error {
	var payload []byte
	switch v := data.(type) {
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	default:
		jsonData, err := json.Marshal(data)
		if err != nil {
			log.Printf("序列化数据失败，派对 %s: %v", client.PartyCode, err)
			return err
		}
		payload = jsonData
	}

	if err := client.writeFrame(fmt.Sprintf("data: %s\n\n", payload)); err != nil {
		log.Printf("写入SSE数据失败，派对 %s: %v", client.PartyCode, err)
		return err
	}
	return nil
}

// BroadcastSSEUpdate向某个派对的所有SSE客户端广播事件
func BroadcastSSEUpdate(partyCode string, data []byte) {
	sseClientsMutex <- true
	clients := make([]*SSEClient, len(sseClients[partyCode]))
	copy(clients, sseClients[partyCode])
	<-sseClientsMutex

	if len(clients) == 0 {
		return // 没有客户端监听
	}

	log.Printf("通过SSE广播更新给%d个客户端, 派对: %s", len(clients), partyCode)

	for _, client := range clients {
		sendSSEEvent(client, json.RawMessage(data))
	}
}
