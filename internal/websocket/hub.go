package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	log  *zap.Logger

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	addresses map[string]bool
}

// Hub 按收件地址管理订阅的连接。
//
// 收件地址本身就是访问凭证，不额外认证。
type Hub struct {
	clients        map[string]*Client
	inboxes        map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan domain.Summary
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
}

// NewHub 创建WebSocket Hub，allowedOrigins 为空时允许所有来源。
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		inboxes:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan domain.Summary, 256),
		done:           make(chan struct{}),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
}

// Run 启动Hub，ctx 结束时关闭所有连接并返回。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			addresses := client.subscriptions()
			h.mu.Lock()
			h.clients[client.ID] = client
			for _, address := range addresses {
				h.subscribeLocked(address, client)
			}
			h.mu.Unlock()
			for _, address := range addresses {
				client.sendMessage(&Message{Type: MessageTypeSubscribed, Address: address, Timestamp: time.Now()})
			}
			h.log.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				client.mu.Lock()
				for address := range client.addresses {
					h.unsubscribeLocked(address, client.ID)
				}
				client.mu.Unlock()
				delete(h.clients, client.ID)
				client.close()
				h.log.Debug("client unregistered", zap.String("client_id", client.ID))
			}
			h.mu.Unlock()

		case summary := <-h.broadcast:
			h.broadcastToInbox(summary)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NotifyNewMessage 把新邮件推送给该地址的订阅者，实现 service.Notifier。
func (h *Hub) NotifyNewMessage(_ context.Context, message *domain.Message) error {
	h.Broadcast(message.Summarize())
	return nil
}

// Broadcast 推送邮件摘要，广播队列满时丢弃。
func (h *Hub) Broadcast(summary domain.Summary) {
	select {
	case h.broadcast <- summary:
	default:
		h.log.Warn("websocket broadcast queue full, dropping", zap.String("address", summary.InboxAddress))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount 订阅某个地址的连接数
func (h *Hub) SubscriberCount(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.inboxes[domain.NormalizeAddress(address)])
}

func (h *Hub) subscribeLocked(address string, client *Client) {
	if h.inboxes[address] == nil {
		h.inboxes[address] = make(map[string]*Client)
	}
	h.inboxes[address][client.ID] = client
}

func (h *Hub) unsubscribeLocked(address, clientID string) {
	if clients, ok := h.inboxes[address]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(h.inboxes, address)
		}
	}
}

// broadcastToInbox 向订阅特定地址的客户端广播消息
func (h *Hub) broadcastToInbox(summary domain.Summary) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.inboxes[summary.InboxAddress]))
	for _, c := range h.inboxes[summary.InboxAddress] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		h.log.Error("failed to marshal summary", zap.Error(err))
		return
	}
	msg := &Message{
		Type:      MessageTypeNewMail,
		Address:   summary.InboxAddress,
		Data:      data,
		Timestamp: time.Now(),
	}
	for _, client := range clients {
		client.sendMessage(msg)
	}
}

// pingAllClients 向所有客户端发送应用层 ping
func (h *Hub) pingAllClients() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := &Message{Type: MessageTypePing, Timestamp: time.Now()}
	for _, client := range h.clients {
		client.sendMessage(msg)
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.close()
	}
	h.clients = make(map[string]*Client)
	h.inboxes = make(map[string]map[string]*Client)
}

// Handle 处理 GET /ws?address= 的升级请求，连接建立后自动订阅该地址。
func (h *Hub) Handle() gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		address, _, err := domain.ParseInboxAddress(c.Query("address"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			conn:      conn,
			hub:       h,
			log:       h.log,
			send:      make(chan []byte, sendBuffer),
			addresses: map[string]bool{address: true},
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Address)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.Address)
	case MessageTypePong:
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) subscribe(raw string) {
	address, _, err := domain.ParseInboxAddress(raw)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.mu.Lock()
	c.addresses[address] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if _, ok := c.hub.clients[c.ID]; ok {
		c.hub.subscribeLocked(address, c)
	}
	c.hub.mu.Unlock()

	c.sendMessage(&Message{Type: MessageTypeSubscribed, Address: address, Timestamp: time.Now()})
}

func (c *Client) unsubscribe(raw string) {
	address := domain.NormalizeAddress(raw)

	c.mu.Lock()
	delete(c.addresses, address)
	c.mu.Unlock()

	c.hub.mu.Lock()
	c.hub.unsubscribeLocked(address, c.ID)
	c.hub.mu.Unlock()
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{Type: MessageTypeError, Error: errMsg, Timestamp: time.Now()})
}

// sendMessage 非阻塞发送，缓冲区满或连接已关闭时丢弃
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}

func (c *Client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.addresses))
	for address := range c.addresses {
		out = append(out, address)
	}
	return out
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
