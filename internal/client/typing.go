package client

import (
	"sync"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/pkg/logger"

	"go.uber.org/zap"
)

// TypingNotifier 把连续击键折叠成节流后的typing/stopTyping事件：
// 每个debounce窗口内最多发一次typing，停止输入idle时长后发一次stopTyping。
// 快速连打不会抖动出大量事件
type TypingNotifier struct {
	emitter  Emitter
	key      ConversationKey
	selfID   uint
	debounce time.Duration
	idle     time.Duration

	mu        sync.Mutex
	lastEmit  time.Time
	active    bool
	idleTimer *time.Timer
	now       func() time.Time
}

func NewTypingNotifier(emitter Emitter, key ConversationKey, selfID uint, debounce, idle time.Duration) *TypingNotifier {
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}
	if idle <= 0 {
		idle = 1200 * time.Millisecond
	}
	return &TypingNotifier{
		emitter:  emitter,
		key:      key,
		selfID:   selfID,
		debounce: debounce,
		idle:     idle,
		now:      time.Now,
	}
}

// 每次击键调用。窗口内的重复击键只重置空闲计时，不产生新事件
func (n *TypingNotifier) Keystroke() {
	n.mu.Lock()
	now := n.now()
	emit := !n.active || now.Sub(n.lastEmit) >= n.debounce
	if emit {
		n.lastEmit = now
	}
	n.active = true
	if n.idleTimer != nil {
		n.idleTimer.Stop()
	}
	n.idleTimer = time.AfterFunc(n.idle, n.timeout)
	n.mu.Unlock()

	if emit {
		n.send(event.Typing)
	}
}

// 明确结束输入（发送消息或清空输入框时调用），立即发stopTyping
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	wasActive := n.active
	n.active = false
	if n.idleTimer != nil {
		n.idleTimer.Stop()
		n.idleTimer = nil
	}
	n.mu.Unlock()

	if wasActive {
		n.send(event.StopTyping)
	}
}

func (n *TypingNotifier) timeout() {
	n.mu.Lock()
	wasActive := n.active
	n.active = false
	n.idleTimer = nil
	n.mu.Unlock()

	if wasActive {
		n.send(event.StopTyping)
	}
}

func (n *TypingNotifier) send(name string) {
	p := event.TypingPayload{From: n.selfID}
	if n.key.GroupID != 0 {
		p.GroupID = n.key.GroupID
	} else {
		p.To = n.key.PeerID
	}
	if err := n.emitter.Emit(name, p); err != nil {
		logger.L.Debug("Failed to emit typing event", zap.String("event", name), zap.Error(err))
	}
}
