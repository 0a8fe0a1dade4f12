// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

// welcomeMessage 连接建立后发送的第一条消息
type welcomeMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvents 订阅某个会话的事件流
func (h *Handler) SessionEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if err := storage.ValidateSessionID(sessionID); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	sc, err := h.Sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("websocket upgrade failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return
	}

	client := newWebSocketClient(conn, sessionID)
	h.Hub.register(client)
	defer h.Hub.unregister(client)

	go h.writePump(client)

	welcome, _ := json.Marshal(welcomeMessage{
		Type:      "connected",
		SessionID: sessionID,
		Version:   sc.Version,
		Timestamp: time.Now(),
	})
	client.enqueue(welcome)

	h.readPump(client)
}

// readPump 只处理心跳，客户端发来的其他消息忽略。读失败即断开。
func (h *Handler) readPump(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Debug("websocket read error", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err.Error(),
				})
			}
			return
		}
		client.UpdatePing()
	}
}

// writePump 串行写出队列中的消息并定时发送 ping
func (h *Handler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
