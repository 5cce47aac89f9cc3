package websocket

import (
	"errors"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/logger"

	"go.uber.org/zap"
)

// 单用户投递
type directDelivery struct {
	userID uint
	data   []byte
}

// 群组房间投递
type roomDelivery struct {
	groupID uint
	data    []byte
	except  uint
}

// 进出房间。房间表只在Run循环里修改，同一群组的join/leave天然串行
type roomOp struct {
	join    bool
	groupID uint
	userID  uint
}

type activeQuery struct {
	userID uint // 0表示查询全部在线用户
	reply  chan []uint
}

type Hub struct {
	clients map[uint]interfaces.Client
	// groupID -> 房间内的userID集合
	rooms map[uint]map[uint]struct{}

	register   chan interfaces.Client
	unregister chan interfaces.Client
	direct     chan directDelivery
	room       chan roomDelivery
	roomOps    chan roomOp
	queries    chan activeQuery

	eventHandler interfaces.ConnectionEventHandler

	retryCount    int
	retryInterval time.Duration
}

func NewHub(eventHandler interfaces.ConnectionEventHandler) *Hub {
	wsConfig := config.GlobalConfig.WebSocket

	retryCount := wsConfig.MessageRetryCount
	if retryCount <= 0 {
		retryCount = 3
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", retryCount))
	}

	retryInterval := time.Duration(wsConfig.MessageRetryIntervalMs) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", retryInterval))
	}

	bufferSize := wsConfig.BroadcastBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
		logger.L.Warn("Invalid BroadcastBufferSize, using default", zap.Int("default", bufferSize))
	}

	return &Hub{
		clients:       make(map[uint]interfaces.Client),
		rooms:         make(map[uint]map[uint]struct{}),
		register:      make(chan interfaces.Client),
		unregister:    make(chan interfaces.Client),
		direct:        make(chan directDelivery, bufferSize),
		room:          make(chan roomDelivery, bufferSize),
		roomOps:       make(chan roomOp, bufferSize),
		queries:       make(chan activeQuery),
		eventHandler:  eventHandler,
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

func (h *Hub) Register(client interfaces.Client) {
	h.register <- client
}

func (h *Hub) Unregister(client interfaces.Client) {
	h.unregister <- client
}

func (h *Hub) SetEventHandler(handler interfaces.ConnectionEventHandler) {
	h.eventHandler = handler
}

func (h *Hub) SendToUser(userID uint, env event.Envelope) (bool, error) {
	data, err := env.Encode()
	if err != nil {
		return false, err
	}
	online := h.IsClientConnected(userID)
	select {
	case h.direct <- directDelivery{userID: userID, data: data}:
		return online, nil
	default:
		logger.L.Warn("Hub direct channel full. Dropping event.",
			zap.String("event", env.Event), zap.Uint("userID", userID))
		return false, errors.New("hub direct channel is full")
	}
}

func (h *Hub) BroadcastToRoom(groupID uint, env event.Envelope, exceptUserID uint) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case h.room <- roomDelivery{groupID: groupID, data: data, except: exceptUserID}:
		return nil
	default:
		logger.L.Warn("Hub room channel full. Dropping event.",
			zap.String("event", env.Event), zap.Uint("groupID", groupID))
		return errors.New("hub room channel is full")
	}
}

func (h *Hub) JoinRoom(groupID, userID uint) {
	h.roomOps <- roomOp{join: true, groupID: groupID, userID: userID}
}

func (h *Hub) LeaveRoom(groupID, userID uint) {
	h.roomOps <- roomOp{join: false, groupID: groupID, userID: userID}
}

func (h *Hub) IsClientConnected(userID uint) bool {
	reply := make(chan []uint, 1)
	h.queries <- activeQuery{userID: userID, reply: reply}
	return len(<-reply) > 0
}

func (h *Hub) ActiveUsers() []uint {
	reply := make(chan []uint, 1)
	h.queries <- activeQuery{reply: reply}
	return <-reply
}

func (h *Hub) trySendData(client interfaces.Client, data []byte) {
	if err := client.QueueBytes(data); err == nil {
		return
	}
	for i := 0; i < h.retryCount; i++ {
		logger.L.Warn("Client send buffer full, retry attempt",
			zap.Uint("userID", client.GetUserID()),
			zap.Int("attempt", i+1))
		time.Sleep(h.retryInterval)
		if err := client.QueueBytes(data); err == nil {
			return
		}
	}
	// 所有重试失败 关闭连接
	logger.L.Error("Client send buffer still full after retries, closing connection",
		zap.Uint("userID", client.GetUserID()),
		zap.Int("attempts", h.retryCount))
	h.removeClient(client)
}

func (h *Hub) removeClient(client interfaces.Client) {
	userID := client.GetUserID()
	if registered, ok := h.clients[userID]; ok && registered == client {
		client.Close()
		delete(h.clients, userID)
		// 断连即离开全部房间
		for groupID, members := range h.rooms {
			if _, in := members[userID]; in {
				delete(members, userID)
				if len(members) == 0 {
					delete(h.rooms, groupID)
				}
			}
		}
		logger.L.Info("Client unregistered", zap.Uint("userID", userID))
		if h.eventHandler != nil {
			go h.eventHandler.HandleUserDisconnected(userID)
		}
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.GetUserID()] = client
			logger.L.Info("Client registered", zap.Uint("userID", client.GetUserID()))
			if h.eventHandler != nil {
				go h.eventHandler.HandleUserConnected(client.GetUserID())
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case op := <-h.roomOps:
			if op.join {
				members, ok := h.rooms[op.groupID]
				if !ok {
					members = make(map[uint]struct{})
					h.rooms[op.groupID] = members
				}
				members[op.userID] = struct{}{}
				logger.L.Debug("User joined room",
					zap.Uint("groupID", op.groupID), zap.Uint("userID", op.userID))
			} else {
				if members, ok := h.rooms[op.groupID]; ok {
					delete(members, op.userID)
					if len(members) == 0 {
						delete(h.rooms, op.groupID)
					}
				}
				logger.L.Debug("User left room",
					zap.Uint("groupID", op.groupID), zap.Uint("userID", op.userID))
			}

		case d := <-h.direct:
			if client, ok := h.clients[d.userID]; ok {
				h.trySendData(client, d.data)
			} else {
				logger.L.Debug("Run: recipient not connected, event not delivered locally.",
					zap.Uint("recipientID", d.userID))
			}

		case d := <-h.room:
			members := h.rooms[d.groupID]
			for userID := range members {
				if userID == d.except {
					continue
				}
				if client, ok := h.clients[userID]; ok {
					h.trySendData(client, d.data)
				}
			}

		case q := <-h.queries:
			if q.userID != 0 {
				if _, ok := h.clients[q.userID]; ok {
					q.reply <- []uint{q.userID}
				} else {
					q.reply <- nil
				}
			} else {
				ids := make([]uint, 0, len(h.clients))
				for id := range h.clients {
					ids = append(ids, id)
				}
				q.reply <- ids
			}
		}
	}
}
