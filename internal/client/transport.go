package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 本地合成事件：连接断开后重连成功。服务器不保证断线期间的消息回放，
// 订阅方（Reconciler）收到后要重拉最新一页补洞
const EventReconnected = "_reconnected"

var ErrTransportClosed = errors.New("transport is closed")

// Emit的抽象，TypingNotifier和测试用
type Emitter interface {
	Emit(name string, payload interface{}) error
}

// 订阅句柄。视图关闭时必须Unsubscribe，否则旧会话的处理器会继续收到事件
type Subscription struct {
	transport *Transport
	eventName string
	id        uint64
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.transport == nil {
		return
	}
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	if handlers, ok := s.transport.subs[s.eventName]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.transport.subs, s.eventName)
		}
	}
	s.transport = nil
}

// Transport 每个登录会话一条逻辑连接：发送命名事件、订阅入站事件、进出群组房间。
// 断线后按退避间隔重连，重连成功自动重进之前加入过的房间
type Transport struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]map[uint64]func(json.RawMessage)
	nextSub uint64
	rooms   map[uint]struct{}
	closed  bool

	// gorilla的连接同一时刻只允许一个写者，所有出站帧都要串行过这把锁
	// （UI线程的Emit、打字计时器的stopTyping、重连goroutine的重进房间）
	writeMu sync.Mutex

	reconnectWait time.Duration
	done          chan struct{}
}

// url形如 ws://host/ws?token=...
func NewTransport(url string, reconnectWait time.Duration) *Transport {
	if reconnectWait <= 0 {
		reconnectWait = 500 * time.Millisecond
	}
	return &Transport{
		url:           url,
		dialer:        websocket.DefaultDialer,
		subs:          make(map[string]map[uint64]func(json.RawMessage)),
		rooms:         make(map[uint]struct{}),
		reconnectWait: reconnectWait,
		done:          make(chan struct{}),
	}
}

// 建立连接并启动读循环
func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// 发送命名事件
func (t *Transport) Emit(name string, payload interface{}) error {
	env, err := event.Marshal(name, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// 订阅入站事件。返回的Subscription在视图关闭时释放
func (t *Transport) On(name string, fn func(json.RawMessage)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	handlers, ok := t.subs[name]
	if !ok {
		handlers = make(map[uint64]func(json.RawMessage))
		t.subs[name] = handlers
	}
	handlers[id] = fn
	return &Subscription{transport: t, eventName: name, id: id}
}

// 进入群组房间，服务端开始把该群的广播投递给本连接
func (t *Transport) JoinRoom(groupID uint) error {
	t.mu.Lock()
	t.rooms[groupID] = struct{}{}
	t.mu.Unlock()
	return t.Emit(event.JoinGroup, event.RoomPayload{GroupID: groupID})
}

func (t *Transport) LeaveRoom(groupID uint) error {
	t.mu.Lock()
	delete(t.rooms, groupID)
	t.mu.Unlock()
	return t.Emit(event.LeaveGroup, event.RoomPayload{GroupID: groupID})
}

func (t *Transport) dispatch(name string, data json.RawMessage) {
	t.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(t.subs[name]))
	for _, fn := range t.subs[name] {
		handlers = append(handlers, fn)
	}
	t.mu.Unlock()

	// 处理器在锁外执行，允许在回调里Unsubscribe或Emit
	for _, fn := range handlers {
		fn(data)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			logger.L.Warn("Transport connection lost, reconnecting", zap.Error(err))
			t.reconnect()
			return
		}

		env, err := event.Decode(frame)
		if err != nil {
			logger.L.Debug("Ignoring malformed inbound frame", zap.Error(err))
			continue
		}
		t.dispatch(env.Event, env.Data)
	}
}

// 断线重连。成功后重进之前加入过的房间，并派发本地reconnected事件
func (t *Transport) reconnect() {
	wait := t.reconnectWait
	for {
		select {
		case <-t.done:
			return
		case <-time.After(wait):
		}

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err != nil {
			logger.L.Debug("Reconnect attempt failed", zap.Error(err))
			if wait < 30*time.Second {
				wait *= 2
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		rooms := make([]uint, 0, len(t.rooms))
		for groupID := range t.rooms {
			rooms = append(rooms, groupID)
		}
		t.mu.Unlock()

		for _, groupID := range rooms {
			if err := t.Emit(event.JoinGroup, event.RoomPayload{GroupID: groupID}); err != nil {
				logger.L.Warn("Failed to re-join room after reconnect",
					zap.Uint("groupID", groupID), zap.Error(err))
			}
		}

		logger.L.Info("Transport reconnected", zap.Int("rejoinedRooms", len(rooms)))
		go t.readLoop(conn)
		t.dispatch(EventReconnected, nil)
		return
	}
}
