// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	clientSendBuffer = 64
	pingInterval     = 50 * time.Second
	pongWait         = 60 * time.Second
	writeWait        = 10 * time.Second
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅某个会话事件的连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    int32 // 0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, sessionID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, clientSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接，send 通道不关闭，写协程通过 done 退出
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		atomic.StoreInt32(&client.closed, 1)
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 不阻塞地投递消息，队列满时返回 false
func (client *WebSocketClient) enqueue(message []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- message:
		return true
	case <-client.done:
		return false
	default:
		return false
	}
}

// Hub 按会话ID管理 WebSocket 订阅者，实现 services.EventPublisher
type Hub struct {
	connections map[string]map[*WebSocketClient]struct{}
	mutex       sync.RWMutex
	pingTimeout time.Duration
	published   atomic.Int64
	dropped     atomic.Int64
}

var _ services.EventPublisher = (*Hub)(nil)

// NewHub 创建会话事件 hub
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: 2 * pongWait,
	}
}

// Run 定期清理过期连接，ctx 结束时关闭所有连接
func (hub *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hub.cleanupExpiredConnections()
		case <-ctx.Done():
			hub.shutdown()
			return
		}
	}
}

func (hub *Hub) register(client *WebSocketClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if hub.connections[client.sessionID] == nil {
		hub.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.sessionID][client] = struct{}{}

	utils.GetLogger().Debug("websocket client connected", map[string]interface{}{
		"session_id": client.sessionID,
		"clients":    len(hub.connections[client.sessionID]),
	})
}

func (hub *Hub) unregister(client *WebSocketClient) {
	hub.mutex.Lock()
	if connections, exists := hub.connections[client.sessionID]; exists {
		delete(connections, client)
		if len(connections) == 0 {
			delete(hub.connections, client.sessionID)
		}
	}
	hub.mutex.Unlock()

	client.Close()
	utils.GetLogger().Debug("websocket client disconnected", map[string]interface{}{
		"session_id": client.sessionID,
	})
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *Hub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	var expired []*WebSocketClient
	for sessionID, connections := range hub.connections {
		for client := range connections {
			if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
				delete(connections, client)
				expired = append(expired, client)
			}
		}
		if len(connections) == 0 {
			delete(hub.connections, sessionID)
		}
	}
	hub.mutex.Unlock()

	for _, client := range expired {
		client.Close()
	}
}

// shutdown 关闭所有连接
func (hub *Hub) shutdown() {
	hub.mutex.Lock()
	var all []*WebSocketClient
	for _, connections := range hub.connections {
		for client := range connections {
			all = append(all, client)
		}
	}
	hub.connections = make(map[string]map[*WebSocketClient]struct{})
	hub.mutex.Unlock()

	for _, client := range all {
		client.Close()
	}
	utils.GetLogger().Info("websocket hub stopped", map[string]interface{}{"closed": len(all)})
}

// Publish 把事件发给订阅该会话的所有连接，不阻塞调用方
func (hub *Hub) Publish(event services.SessionEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		utils.GetLogger().Warn("failed to encode session event", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
		return
	}
	hub.published.Add(1)
	hub.BroadcastToSession(event.SessionID, message)
}

// BroadcastToSession 向指定会话广播原始消息。队列满的连接会被断开。
func (hub *Hub) BroadcastToSession(sessionID string, message []byte) {
	hub.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.connections[sessionID]))
	for client := range hub.connections[sessionID] {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(message) {
			hub.dropped.Add(1)
			go hub.unregister(client)
		}
	}
}

// HubStatus 连接统计
type HubStatus struct {
	TotalSessions    int            `json:"total_sessions"`
	TotalConnections int            `json:"total_connections"`
	Sessions         map[string]int `json:"sessions"`
	Published        int64          `json:"published"`
	Dropped          int64          `json:"dropped"`
}

// GetStatus 获取 hub 状态
func (hub *Hub) GetStatus() HubStatus {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	status := HubStatus{
		TotalSessions: len(hub.connections),
		Sessions:      make(map[string]int, len(hub.connections)),
		Published:     hub.published.Load(),
		Dropped:       hub.dropped.Load(),
	}
	for sessionID, connections := range hub.connections {
		status.Sessions[sessionID] = len(connections)
		status.TotalConnections += len(connections)
	}
	return status
}
