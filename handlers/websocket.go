package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// Hub 管理WebSocket连接的中心
type Hub struct {
	// 分组存储的客户端连接，按派对码组织
	clients map[string]map[*Client]bool

	// 添加新客户端的注册通道
	register chan *Client

	// 删除客户端的注销通道
	unregister chan *Client

	// 广播特定派对的事件
	broadcast chan *BroadcastMessage

	// 锁，用于保护clients字典
	mu sync.RWMutex

	// 用于跟踪每个派对的连接数
	partyConnections map[string]int

	// 定期清理过期连接
	expireTicker *time.Ticker

	// 最大连接数限制
	maxConnections int

	// 当前连接总数
	totalConnections int
}

// Client 表示一个WebSocket客户端连接
type Client struct {
	// 所属Hub
	hub *Hub

	// WebSocket连接
	conn *websocket.Conn

	// 发送消息的通道
	send chan []byte

	// 客户端关注的派对码
	partyCode string

	// 客户端上次活动时间
	lastActivity time.Time
}

// BroadcastMessage 定义广播消息的结构
type BroadcastMessage struct {
	PartyCode string
	Data      []byte
}

// 定义WebSocket升级器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有CORS请求，生产环境应限制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 全局Hub实例
var (
	GlobalHub *Hub
	hubOnce   sync.Once
)

// 初始化函数，创建并启动Hub
func init() {
	hubOnce.Do(func() {
		GlobalHub = &Hub{
			clients:          make(map[string]map[*Client]bool),
			register:         make(chan *Client),
			unregister:       make(chan *Client),
			broadcast:        make(chan *BroadcastMessage, 64),
			partyConnections: make(map[string]int),
			expireTicker:     time.NewTicker(5 * time.Minute),
			maxConnections:   10000,
		}
		go GlobalHub.run()
	})
}

// run 运行Hub处理循环
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.partyCode]; !ok {
				h.clients[client.partyCode] = make(map[*Client]bool)
				h.partyConnections[client.partyCode] = 0
			}

			h.clients[client.partyCode][client] = true
			h.partyConnections[client.partyCode]++
			h.totalConnections++
			connCount := h.partyConnections[client.partyCode]
			h.mu.Unlock()

			log.Printf("新WebSocket客户端已连接 [派对: %s, 连接数: %d]", client.partyCode, connCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.partyCode]; ok {
				if _, ok := h.clients[client.partyCode][client]; ok {
					delete(h.clients[client.partyCode], client)
					h.partyConnections[client.partyCode]--
					h.totalConnections--
					close(client.send)

					log.Printf("WebSocket客户端已断开 [派对: %s, 连接数: %d]",
						client.partyCode, h.partyConnections[client.partyCode])

					// 没有连接了就清理该派对的映射
					if len(h.clients[client.partyCode]) == 0 {
						delete(h.clients, client.partyCode)
						delete(h.partyConnections, client.partyCode)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			clients := h.clients[message.PartyCode]
			for client := range clients {
				select {
				case client.send <- message.Data:
				default:
					// 客户端缓冲区已满，关闭连接
					close(client.send)
					delete(clients, client)
					h.partyConnections[message.PartyCode]--
					h.totalConnections--
				}
			}
			if len(clients) == 0 {
				delete(h.clients, message.PartyCode)
				delete(h.partyConnections, message.PartyCode)
			}
			h.mu.Unlock()

		case <-h.expireTicker.C:
			// 清理长时间不活跃的连接
			now := time.Now()
			timeout := 30 * time.Minute

			h.mu.Lock()
			for code, clients := range h.clients {
				for client := range clients {
					if client.lastActivity.Add(timeout).Before(now) {
						log.Printf("关闭不活跃的WebSocket连接 [派对: %s, 不活跃时间: %v]",
							code, now.Sub(client.lastActivity))
						delete(clients, client)
						h.partyConnections[code]--
						h.totalConnections--
						close(client.send)
					}
				}

				if len(clients) == 0 {
					delete(h.clients, code)
					delete(h.partyConnections, code)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(c *gin.Context) {
	code := c.Param("code")

	var party models.Party
	if err := database.DB.Where("code = ?", code).First(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Party not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		}
		return
	}

	// 检查连接数量是否达到上限
	GlobalHub.mu.RLock()
	if GlobalHub.totalConnections >= GlobalHub.maxConnections {
		GlobalHub.mu.RUnlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many connections"})
		return
	}
	GlobalHub.mu.RUnlock()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	client := &Client{
		hub:          GlobalHub,
		conn:         conn,
		send:         make(chan []byte, 256),
		partyCode:    code,
		lastActivity: time.Now(),
	}

	// 发送连接确认
	if ack, err := json.Marshal(gin.H{"type": EventConnected}); err == nil {
		client.conn.WriteMessage(websocket.TextMessage, ack)
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastWSUpdate 将事件广播给某个派对的所有WebSocket客户端
func BroadcastWSUpdate(partyCode string, data []byte) {
	message := &BroadcastMessage{
		PartyCode: partyCode,
		Data:      data,
	}

	select {
	case GlobalHub.broadcast <- message:
	default:
		log.Printf("WebSocket广播通道已满，丢弃事件 [派对: %s]", partyCode)
	}
}

// 客户端读取循环
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512) // 限制消息大小
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket读取错误: %v", err)
			}
			break
		}
		c.lastActivity = time.Now()
	}
}

// 客户端写入循环
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub关闭了channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.lastActivity = time.Now()

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 添加排队的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
