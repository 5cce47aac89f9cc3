package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/model"
	"go-social-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conversation 打开的一个会话视图。三个消息来源（首屏拉取、load-more、socket推送）
// 都经由它汇入Store，保证有序、去重、不串台。
//
// 收敛规则：乐观发送的REST确认和同一条消息的socket回声到达顺序不定，
// Store的去重让两种顺序收敛到同一个终态。
type Conversation struct {
	Key ConversationKey

	store        *Store
	fetcher      Fetcher
	sender       Sender
	groupFetcher GroupFetcher
	transport    *Transport
	selfID       uint
	pageSize     int
	highlightFor time.Duration

	mu      sync.Mutex
	epoch   uint64 // 每次Open/Close递增；迟到的响应比对epoch后丢弃
	opened  bool
	total   int64
	fetched int // 已从服务端拉取的条数，也是下一页的offset
	subs    []*Subscription
	search  *searchState

	highlighted    uint
	highlightTimer *time.Timer

	// 群组元数据重拉完成后的回调（memberJoined等通知触发）
	OnGroupUpdate func(*GroupInfo)
	// 搜索导航的高亮回调：on=true滚动到并高亮目标消息，on=false自动清除
	OnHighlight func(messageID uint, on bool)
}

type ConversationConfig struct {
	Store        *Store
	Fetcher      Fetcher
	Sender       Sender
	GroupFetcher GroupFetcher
	Transport    *Transport
	SelfID       uint
	PageSize     int
	HighlightFor time.Duration
}

func NewConversation(key ConversationKey, cfg ConversationConfig) *Conversation {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	highlightFor := cfg.HighlightFor
	if highlightFor <= 0 {
		highlightFor = 1500 * time.Millisecond
	}
	return &Conversation{
		Key:          key,
		store:        cfg.Store,
		fetcher:      cfg.Fetcher,
		sender:       cfg.Sender,
		groupFetcher: cfg.GroupFetcher,
		transport:    cfg.Transport,
		selfID:       cfg.SelfID,
		pageSize:     pageSize,
		highlightFor: highlightFor,
	}
}

// 打开会话：丢弃该键下的旧状态，订阅socket事件，拉取最新一页。
// 首屏拉取失败时Store保持为空，错误返回给视图层展示
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.opened = true
	c.total = 0
	c.fetched = 0
	c.search = nil
	c.mu.Unlock()

	c.store.Clear(c.Key)

	// 先订阅再拉取：拉取期间到达的推送直接入库，与页内容的重叠靠去重消解
	c.subscribe()

	if c.Key.GroupID != 0 && c.transport != nil {
		if err := c.transport.JoinRoom(c.Key.GroupID); err != nil {
			logger.L.Warn("Failed to join group room", zap.Uint("groupID", c.Key.GroupID), zap.Error(err))
		}
	}

	return c.fetchPage(ctx, epoch, 0)
}

// 关闭会话：先释放全部socket订阅，再退出房间。之后到达的事件不会再
// 写进这个会话，迟到的拉取响应也会因epoch不匹配被丢弃
func (c *Conversation) Close() {
	c.mu.Lock()
	c.epoch++
	c.opened = false
	subs := c.subs
	c.subs = nil
	c.search = nil
	if c.highlightTimer != nil {
		c.highlightTimer.Stop()
		c.highlightTimer = nil
	}
	c.highlighted = 0
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if c.Key.GroupID != 0 && c.transport != nil {
		if err := c.transport.LeaveRoom(c.Key.GroupID); err != nil {
			logger.L.Debug("Failed to leave group room", zap.Uint("groupID", c.Key.GroupID), zap.Error(err))
		}
	}
}

// 还有没有更旧的页可拉
func (c *Conversation) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.fetched) < c.total
}

// 拉取下一页更旧的历史并前插。失败时已加载的消息不动，重新调用即重试
func (c *Conversation) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if int64(c.fetched) >= c.total {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	offset := c.fetched
	c.mu.Unlock()

	return c.fetchPage(ctx, epoch, offset)
}

func (c *Conversation) fetchPage(ctx context.Context, epoch uint64, offset int) error {
	page, err := c.fetcher.FetchPage(ctx, c.Key, c.pageSize, offset)

	c.mu.Lock()
	if c.epoch != epoch {
		// 会话已经切走，迟到的响应不能写进当前打开的会话
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.total = page.Total
	c.mu.Unlock()

	// 服务端页内是新到旧，入库统一成升序
	older := make([]Message, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		older = append(older, Message{MessagePayload: page.Messages[i]})
	}
	inserted := c.store.PrependHistory(c.Key, older)

	// 游标只按真正新插入的条数推进：重连补拉和与实时推送重叠的页
	// 整页被去重吸收时不动游标，否则更旧的页会被跳过
	c.mu.Lock()
	if c.epoch == epoch {
		c.fetched += inserted
	}
	c.mu.Unlock()
	return nil
}

func (c *Conversation) addSub(sub *Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

func (c *Conversation) subscribe() {
	if c.transport == nil {
		return
	}

	if c.Key.GroupID != 0 {
		c.addSub(c.transport.On(event.AddGroupMessageToClient, func(data json.RawMessage) {
			var p event.GroupMessagePayload
			if err := json.Unmarshal(data, &p); err != nil {
				logger.L.Debug("Malformed group message event", zap.Error(err))
				return
			}
			// 别的群的事件不进当前会话
			if p.GroupID != c.Key.GroupID {
				return
			}
			c.store.AppendIncoming(c.Key, Message{MessagePayload: p.Message})
		}))
		c.addSub(c.transport.On(event.MessageDeleted, func(data json.RawMessage) {
			var p event.MessageDeletedPayload
			if err := json.Unmarshal(data, &p); err != nil || p.GroupID != c.Key.GroupID {
				return
			}
			c.store.Drop(c.Key, p.MessageIDs)
		}))
		for _, name := range []string{
			event.GroupUpdated, event.MemberJoined, event.MemberLeft,
			event.MemberPromoted, event.MemberRemoved,
		} {
			c.addSub(c.transport.On(name, func(data json.RawMessage) {
				var p event.GroupNotifyPayload
				if err := json.Unmarshal(data, &p); err != nil || p.GroupID != c.Key.GroupID {
					return
				}
				// 成员/元数据变化整体重拉，不做增量合并
				c.refreshGroup()
			}))
		}
	} else {
		c.addSub(c.transport.On(event.AddMessageToClient, func(data json.RawMessage) {
			var p event.MessagePayload
			if err := json.Unmarshal(data, &p); err != nil {
				logger.L.Debug("Malformed direct message event", zap.Error(err))
				return
			}
			// 只接收与当前对端之间的消息
			if p.SenderID != c.Key.PeerID && p.ReceiverID != c.Key.PeerID {
				return
			}
			c.store.AppendIncoming(c.Key, Message{MessagePayload: p})
		}))
		c.addSub(c.transport.On(event.MessagesRead, func(data json.RawMessage) {
			var p event.MessagesReadPayload
			if err := json.Unmarshal(data, &p); err != nil || p.ReaderID != c.Key.PeerID {
				return
			}
			c.store.MarkRead(c.Key, c.selfID)
		}))
	}

	c.addSub(c.transport.On(event.Typing, func(data json.RawMessage) {
		if userID, ok := c.typingSender(data); ok {
			c.store.SetTyping(c.Key, userID, true)
		}
	}))
	c.addSub(c.transport.On(event.StopTyping, func(data json.RawMessage) {
		if userID, ok := c.typingSender(data); ok {
			c.store.SetTyping(c.Key, userID, false)
		}
	}))

	// 重连后没有消息回放的保证，重拉最新一页补洞
	c.addSub(c.transport.On(EventReconnected, func(json.RawMessage) {
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.fetchPage(ctx, epoch, 0); err != nil {
				logger.L.Warn("Failed to refresh after reconnect", zap.Error(err))
			}
		}()
	}))
}

// 打字事件是否属于本会话；是则返回打字者
func (c *Conversation) typingSender(data json.RawMessage) (uint, bool) {
	var p event.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, false
	}
	if c.Key.GroupID != 0 {
		if p.GroupID != c.Key.GroupID {
			return 0, false
		}
		return p.From, true
	}
	if p.GroupID != 0 || p.From != c.Key.PeerID {
		return 0, false
	}
	return p.From, true
}

func (c *Conversation) refreshGroup() {
	if c.groupFetcher == nil || c.Key.GroupID == 0 {
		return
	}
	c.mu.Lock()
	epoch := c.epoch
	cb := c.OnGroupUpdate
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := c.groupFetcher.FetchGroup(ctx, c.Key.GroupID)
		if err != nil {
			logger.L.Warn("Failed to refresh group metadata",
				zap.Uint("groupID", c.Key.GroupID), zap.Error(err))
			return
		}
		c.mu.Lock()
		stale := c.epoch != epoch
		c.mu.Unlock()
		if stale || cb == nil {
			return
		}
		cb(info)
	}()
}

// 发送一条消息。先以乐观草稿入库展示，持久化成功后由确认/回声收敛成一条；
// 失败时草稿标记为failed，可Retry或Rollback。多条发送可以并发在途
func (c *Conversation) Send(ctx context.Context, text string, media []model.MediaItem) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(media) == 0 {
		return "", ErrEmptyMessage
	}

	draft := event.MessagePayload{
		ClientID:  uuid.NewString(),
		Content:   text,
		Media:     media,
		SenderID:  c.selfID,
		CreatedAt: time.Now(),
	}
	if c.Key.GroupID != 0 {
		draft.GroupID = c.Key.GroupID
	} else {
		draft.ReceiverID = c.Key.PeerID
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	c.store.AppendIncoming(c.Key, Message{MessagePayload: draft, Pending: true})

	go c.persist(ctx, epoch, draft)
	return draft.ClientID, nil
}

// 重试一条失败的草稿
func (c *Conversation) Retry(ctx context.Context, clientID string) bool {
	for _, m := range c.store.Messages(c.Key) {
		if m.ClientID == clientID && m.Failed {
			c.mu.Lock()
			epoch := c.epoch
			c.mu.Unlock()
			draft := m.MessagePayload
			go c.persist(ctx, epoch, draft)
			return true
		}
	}
	return false
}

// 回滚一条失败的草稿（从序列里移除）
func (c *Conversation) Rollback(clientID string) {
	c.store.DropDraft(c.Key, clientID)
}

func (c *Conversation) persist(ctx context.Context, epoch uint64, draft event.MessagePayload) {
	ack, err := c.sender.Send(ctx, c.Key, draft)

	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		// 会话已关闭，Store里的草稿已随Clear一起丢弃
		return
	}

	if err != nil {
		logger.L.Warn("Message persistence failed", zap.String("clientID", draft.ClientID), zap.Error(err))
		c.store.MarkFailed(c.Key, draft.ClientID)
		return
	}
	// 确认与socket回声到达顺序不定，二者都会被去重吸收进同一条
	c.store.AppendIncoming(c.Key, Message{MessagePayload: *ack})
}

type searchState struct {
	query   string
	matches []uint // 命中消息的ID，按加载顺序
	cursor  int
}

// 在已加载的消息上做大小写不敏感的子串搜索，返回命中数。
// 之后用NextMatch/PrevMatch环形导航
func (c *Conversation) Search(query string) int {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		c.mu.Lock()
		c.search = nil
		c.mu.Unlock()
		return 0
	}

	var matches []uint
	for _, m := range c.store.Messages(c.Key) {
		// 还没拿到服务端ID的草稿不参与导航，0是Highlighted的"无高亮"哨兵
		if m.ID == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), query) {
			matches = append(matches, m.ID)
		}
	}

	c.mu.Lock()
	c.search = &searchState{query: query, matches: matches, cursor: -1}
	c.mu.Unlock()
	return len(matches)
}

// 下一个命中，从最后一个环绕回第一个
func (c *Conversation) NextMatch() (uint, bool) {
	return c.step(1)
}

// 上一个命中，从第一个环绕回最后一个
func (c *Conversation) PrevMatch() (uint, bool) {
	return c.step(-1)
}

func (c *Conversation) step(delta int) (uint, bool) {
	c.mu.Lock()
	if c.search == nil || len(c.search.matches) == 0 {
		c.mu.Unlock()
		return 0, false
	}
	n := len(c.search.matches)
	if c.search.cursor < 0 {
		if delta > 0 {
			c.search.cursor = 0
		} else {
			c.search.cursor = n - 1
		}
	} else {
		c.search.cursor = (c.search.cursor + delta + n) % n
	}
	id := c.search.matches[c.search.cursor]
	c.mu.Unlock()

	c.highlight(id)
	return id, true
}

// 当前高亮的消息ID，0表示没有
func (c *Conversation) Highlighted() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlighted
}

// 高亮目标消息，固定时长后自动清除
func (c *Conversation) highlight(id uint) {
	c.mu.Lock()
	if c.highlightTimer != nil {
		c.highlightTimer.Stop()
	}
	c.highlighted = id
	cb := c.OnHighlight
	c.highlightTimer = time.AfterFunc(c.highlightFor, func() {
		c.mu.Lock()
		cleared := c.highlighted == id
		if cleared {
			c.highlighted = 0
		}
		cb := c.OnHighlight
		c.mu.Unlock()
		if cleared && cb != nil {
			cb(id, false)
		}
	})
	c.mu.Unlock()

	if cb != nil {
		cb(id, true)
	}
}
