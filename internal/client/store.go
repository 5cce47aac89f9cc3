package client

import (
	"sync"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/model"
)

// 会话键：私聊按对端用户ID，群聊按群组ID，二者互斥
type ConversationKey struct {
	PeerID  uint
	GroupID uint
}

func DirectKey(peerID uint) ConversationKey {
	return ConversationKey{PeerID: peerID}
}

func GroupKey(groupID uint) ConversationKey {
	return ConversationKey{GroupID: groupID}
}

// 存储里的一条消息：服务端负载加上乐观发送的本地状态
type Message struct {
	event.MessagePayload
	Pending bool // 已展示但还没拿到服务端确认
	Failed  bool // 持久化失败，可重试或回滚
}

type conversation struct {
	messages []*Message
	// 正在打字的用户 -> 安全清除定时器（stopTyping丢失时兜底）
	typing map[uint]*time.Timer
}

// Store 客户端的会话内存状态。每个会话持有按createdAt升序、去重后的消息序列
// 和瞬态的打字指示。所有变更都会触发OnChange注册的回调（视图重渲染）
type Store struct {
	mu           sync.Mutex
	convs        map[ConversationKey]*conversation
	typingSafety time.Duration
	onChange     []func(ConversationKey)
}

func NewStore(typingSafety time.Duration) *Store {
	if typingSafety <= 0 {
		typingSafety = 3 * time.Second
	}
	return &Store{
		convs:        make(map[ConversationKey]*conversation),
		typingSafety: typingSafety,
	}
}

func (s *Store) OnChange(fn func(ConversationKey)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) notify(key ConversationKey) {
	s.mu.Lock()
	fns := make([]func(ConversationKey), len(s.onChange))
	copy(fns, s.onChange)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}

func (s *Store) conv(key ConversationKey) *conversation {
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{typing: make(map[uint]*time.Timer)}
		s.convs[key] = c
	}
	return c
}

// 当前序列的一份拷贝，按createdAt升序
func (s *Store) Messages(key ConversationKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

func (s *Store) Len(key ConversationKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		return len(c.messages)
	}
	return 0
}

// 去重判定：优先服务端ID，其次乐观草稿的client_id，最后退回内容匹配
// （发送者+会话+文本+秒级createdAt），覆盖双方各缺一种标识的情况
func sameMessage(a *Message, b *Message) bool {
	if a.ID != 0 && b.ID != 0 {
		return a.ID == b.ID
	}
	if a.ClientID != "" && b.ClientID != "" {
		return a.ClientID == b.ClientID
	}
	return a.SenderID == b.SenderID &&
		a.ReceiverID == b.ReceiverID &&
		a.GroupID == b.GroupID &&
		a.Content == b.Content &&
		a.CreatedAt.Truncate(time.Second).Equal(b.CreatedAt.Truncate(time.Second))
}

// 已有条目吸收新到的同一条消息：服务端字段（ID、时间戳、状态）以新值为准，
// 本地pending/failed标记清除
func (m *Message) absorb(incoming *Message) {
	if incoming.ID != 0 {
		m.ID = incoming.ID
	}
	if incoming.ClientID != "" {
		m.ClientID = incoming.ClientID
	}
	if incoming.Status != "" {
		m.Status = incoming.Status
	}
	if !incoming.CreatedAt.IsZero() {
		m.CreatedAt = incoming.CreatedAt
	}
	if incoming.SenderUsername != "" {
		m.SenderUsername = incoming.SenderUsername
	}
	if incoming.SenderAvatar != "" {
		m.SenderAvatar = incoming.SenderAvatar
	}
	m.Pending = incoming.Pending
	m.Failed = incoming.Failed
}

// 在保持升序的前提下插入：停在第一个createdAt更大的条目之前，
// 相等的时间戳按到达顺序排在已有条目之后
func insertOrdered(messages []*Message, msg *Message) []*Message {
	idx := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].CreatedAt.After(msg.CreatedAt) {
			break
		}
		idx = i
	}
	messages = append(messages, nil)
	copy(messages[idx+1:], messages[idx:])
	messages[idx] = msg
	return messages
}

// 追加一条实时到达（或本地乐观）的消息。重复的消息被吸收成一条；
// 吸收可能改变createdAt（草稿换成服务端时间戳），此时重新落位保持有序
func (s *Store) AppendIncoming(key ConversationKey, msg Message) {
	s.mu.Lock()
	c := s.conv(key)
	merged := false
	for i, existing := range c.messages {
		if sameMessage(existing, &msg) {
			existing.absorb(&msg)
			// 时间戳变了就重新插入到正确的位置
			if i > 0 && existing.CreatedAt.Before(c.messages[i-1].CreatedAt) ||
				i < len(c.messages)-1 && existing.CreatedAt.After(c.messages[i+1].CreatedAt) {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
				c.messages = insertOrdered(c.messages, existing)
			}
			merged = true
			break
		}
	}
	if !merged {
		m := msg
		c.messages = insertOrdered(c.messages, &m)
	}
	s.mu.Unlock()
	s.notify(key)
}

// 合并一页更旧的历史。已加载的条目不动，页内重复的被已有条目吸收。
// 返回真正新插入的条数，页与已加载消息的重叠不计入
func (s *Store) PrependHistory(key ConversationKey, older []Message) int {
	s.mu.Lock()
	c := s.conv(key)
	inserted := 0
	for i := range older {
		msg := &older[i]
		dup := false
		for _, existing := range c.messages {
			if sameMessage(existing, msg) {
				existing.absorb(msg)
				dup = true
				break
			}
		}
		if !dup {
			m := *msg
			c.messages = insertOrdered(c.messages, &m)
			inserted++
		}
	}
	s.mu.Unlock()
	s.notify(key)
	return inserted
}

// 删除若干条消息（治理删除的广播到达时）
func (s *Store) Drop(key ConversationKey, messageIDs []uint) {
	ids := make(map[uint]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	s.mu.Lock()
	if c, ok := s.convs[key]; ok {
		kept := c.messages[:0]
		for _, m := range c.messages {
			if _, drop := ids[m.ID]; !drop {
				kept = append(kept, m)
			}
		}
		c.messages = kept
	}
	s.mu.Unlock()
	s.notify(key)
}

// 按client_id删除（乐观发送失败后的回滚）
func (s *Store) DropDraft(key ConversationKey, clientID string) {
	s.mu.Lock()
	if c, ok := s.convs[key]; ok {
		for i, m := range c.messages {
			if m.ClientID == clientID && m.ID == 0 {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify(key)
}

// 标记乐观草稿发送失败（保留在序列里，可重试）
func (s *Store) MarkFailed(key ConversationKey, clientID string) {
	s.mu.Lock()
	if c, ok := s.convs[key]; ok {
		for _, m := range c.messages {
			if m.ClientID == clientID {
				m.Pending = false
				m.Failed = true
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify(key)
}

// 对端已读：把自己发出的消息全部置为read
func (s *Store) MarkRead(key ConversationKey, selfID uint) {
	s.mu.Lock()
	if c, ok := s.convs[key]; ok {
		for _, m := range c.messages {
			if m.SenderID == selfID {
				m.Status = model.StatusRead
			}
		}
	}
	s.mu.Unlock()
	s.notify(key)
}

// 清空一个会话（切换会话时丢弃旧状态）
func (s *Store) Clear(key ConversationKey) {
	s.mu.Lock()
	if c, ok := s.convs[key]; ok {
		for _, timer := range c.typing {
			timer.Stop()
		}
		delete(s.convs, key)
	}
	s.mu.Unlock()
	s.notify(key)
}

// 设置/清除某个用户的打字指示。设置时启动安全定时器，
// stopTyping丢了也会在typingSafety后自动清除
func (s *Store) SetTyping(key ConversationKey, userID uint, isTyping bool) {
	s.mu.Lock()
	c := s.conv(key)
	if timer, ok := c.typing[userID]; ok {
		timer.Stop()
		delete(c.typing, userID)
	}
	if isTyping {
		c.typing[userID] = time.AfterFunc(s.typingSafety, func() {
			s.SetTyping(key, userID, false)
		})
	}
	s.mu.Unlock()
	s.notify(key)
}

// 当前正在打字的用户集合
func (s *Store) TypingUsers(key ConversationKey) []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	users := make([]uint, 0, len(c.typing))
	for userID := range c.typing {
		users = append(users, userID)
	}
	return users
}
