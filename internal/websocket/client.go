package websocket

import (
	"errors"
	"log"
	"sync"
	"time"

	"go-social-chat/internal/interfaces"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // 写超时
	pongWait       = 60 * time.Second    // 等待pong的最大时间
	pingPeriod     = (pongWait * 9) / 10 // 发送ping的周期
	maxMessageSize = 4096                // 消息最大长度
)

type Client struct {
	UserID    uint
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
	closeOnce sync.Once
	handler   interfaces.EventHandler
	manager   interfaces.ConnectionManager
}

func NewClient(userID uint, conn *websocket.Conn, handler interfaces.EventHandler, manager interfaces.ConnectionManager) *Client {
	return &Client{
		UserID:  userID,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		handler: handler,
		manager: manager,
	}
}

func (c *Client) GetUserID() uint {
	return c.UserID
}

func (c *Client) QueueBytes(data []byte) error {
	select {
	case c.Send <- data:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: unexpected close error for user %d: %v", c.UserID, err)
			} else {
				log.Printf("error: read error for user %d: %v", c.UserID, err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handler.HandleEvent(frame, c.UserID)
		} else {
			log.Printf("Warning: Received non-text message type (%d) from user %d. Ignoring.", messageType, c.UserID)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			if !ok {
				// Send 通道已关闭
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, frame)
			c.mu.Unlock()
			if err != nil {
				log.Printf("error: failed to write message for user %d: %v", c.UserID, err)
				return
			}

			c.mu.Lock()
			n := len(c.Send)
			for i := 0; i < n; i++ {
				batch := <-c.Send
				if err := c.Conn.WriteMessage(websocket.TextMessage, batch); err != nil {
					log.Printf("error: failed to write batched message for user %d: %v", c.UserID, err)
					c.mu.Unlock()
					return
				}
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				log.Printf("Failed to send ping: %v", err)
				return
			}
		}
	}
}
