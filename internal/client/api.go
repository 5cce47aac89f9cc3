package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/model"
)

// 空消息在发送入口就被拦下，不产生草稿也不发请求
var ErrEmptyMessage = errors.New("message content is empty")

// 一页历史消息。Total是服务端的会话消息总数，load-more用它判断还有没有更旧的页
type Page struct {
	Messages []event.MessagePayload `json:"messages"`
	Total    int64                  `json:"total"`
}

// 群组元数据（成员变更通知后整体重拉的结果）
type GroupInfo struct {
	ID        uint                 `json:"id"`
	Name      string               `json:"name"`
	Avatar    string               `json:"avatar"`
	OwnerID   uint                 `json:"owner_id"`
	ExpiresAt time.Time            `json:"expires_at"`
	State     model.LifecycleState `json:"state"`
	Members   []GroupMemberInfo    `json:"members"`
}

type GroupMemberInfo struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
}

// Reconciler对历史拉取的依赖，测试里用假实现替换
type Fetcher interface {
	FetchPage(ctx context.Context, key ConversationKey, limit, offset int) (*Page, error)
}

// 消息持久化的依赖（REST POST）
type Sender interface {
	Send(ctx context.Context, key ConversationKey, draft event.MessagePayload) (*event.MessagePayload, error)
}

// 群组元数据拉取的依赖
type GroupFetcher interface {
	FetchGroup(ctx context.Context, groupID uint) (*GroupInfo, error)
}

// RestClient 对服务端REST接口的薄封装，带bearer凭证
type RestClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewRestClient(baseURL, token string) *RestClient {
	return &RestClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RestClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server rejected request (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server rejected request: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// 拉取一页历史。私聊和群聊共用，key决定路径
func (c *RestClient) FetchPage(ctx context.Context, key ConversationKey, limit, offset int) (*Page, error) {
	var path string
	if key.GroupID != 0 {
		path = fmt.Sprintf("/api/groups/%d/messages?limit=%d&offset=%d", key.GroupID, limit, offset)
	} else {
		path = fmt.Sprintf("/api/messages/%d?limit=%d&offset=%d", key.PeerID, limit, offset)
	}
	var page Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *RestClient) Send(ctx context.Context, key ConversationKey, draft event.MessagePayload) (*event.MessagePayload, error) {
	var resp struct {
		Message event.MessagePayload `json:"message"`
	}
	if key.GroupID != 0 {
		body := map[string]interface{}{
			"client_id": draft.ClientID,
			"content":   draft.Content,
			"media":     draft.Media,
		}
		path := fmt.Sprintf("/api/groups/%d/messages", key.GroupID)
		if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, err
		}
		return &resp.Message, nil
	}

	body := map[string]interface{}{
		"client_id":   draft.ClientID,
		"content":     draft.Content,
		"media":       draft.Media,
		"receiver_id": key.PeerID,
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *RestClient) FetchGroup(ctx context.Context, groupID uint) (*GroupInfo, error) {
	var info GroupInfo
	path := fmt.Sprintf("/api/groups/%d", groupID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *RestClient) MarkConversationRead(ctx context.Context, peerID uint) error {
	path := fmt.Sprintf("/api/messages/%d/read", peerID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *RestClient) ExtendExpiry(ctx context.Context, groupID uint, expiresAt time.Time) error {
	path := fmt.Sprintf("/api/groups/%d/extend", groupID)
	return c.do(ctx, http.MethodPost, path, map[string]interface{}{"expires_at": expiresAt}, nil)
}

func (c *RestClient) DeleteMessage(ctx context.Context, groupID, messageID uint) error {
	path := fmt.Sprintf("/api/groups/%d/messages/%d", groupID, messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// 批量删除。返回服务端报告的失败ID及原因
func (c *RestClient) DeleteMessages(ctx context.Context, groupID uint, messageIDs []uint) (map[uint]string, error) {
	var resp struct {
		Failed []struct {
			MessageID uint   `json:"message_id"`
			Reason    string `json:"reason"`
		} `json:"failed"`
	}
	path := fmt.Sprintf("/api/groups/%d/messages/delete", groupID)
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{"message_ids": messageIDs}, &resp); err != nil {
		return nil, err
	}
	failed := make(map[uint]string, len(resp.Failed))
	for _, f := range resp.Failed {
		failed[f.MessageID] = f.Reason
	}
	return failed, nil
}
