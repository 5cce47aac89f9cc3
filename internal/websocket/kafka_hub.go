package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaHub 实现interfaces.ConnectionManager接口的Kafka版本
// 事件经Kafka转发，使多个服务实例的在线用户都能收到私聊和房间广播
type KafkaHub struct {
	clients   map[uint]interfaces.Client
	rooms     map[uint]map[uint]struct{}
	clientsMu sync.RWMutex
	roomsMu   sync.Mutex

	producer   sarama.SyncProducer
	consumer   sarama.ConsumerGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	eventHandler interfaces.ConnectionEventHandler
	cfg          *config.KafkaConfig
}

// 创建一个新的KafkaHub
func NewKafkaHub(eventHandler interfaces.ConnectionEventHandler) (*KafkaHub, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &config.GlobalConfig.Messaging.Kafka

	// 配置Kafka
	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Return.Successes = true
	kConfig.Producer.Retry.Max = 3
	kConfig.Consumer.Return.Errors = true
	kConfig.Version = sarama.V2_8_0_0 // 使用一个稳定版本

	// 创建生产者
	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka producer", zap.Error(err))
		cancel()
		return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
	}

	// 创建消费者组
	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka consumer group", zap.Error(err))
		producer.Close()
		cancel()
		return nil, fmt.Errorf("failed to start Kafka consumer group: %w", err)
	}

	hub := &KafkaHub{
		clients:      make(map[uint]interfaces.Client),
		rooms:        make(map[uint]map[uint]struct{}),
		producer:     producer,
		consumer:     consumer,
		ctx:          ctx,
		cancelFunc:   cancel,
		eventHandler: eventHandler,
		cfg:          cfg,
	}

	return hub, nil
}

func (h *KafkaHub) StartConsumer() {
	go h.consumeMessages()
}

// 关闭KafkaHub
func (h *KafkaHub) Close() error {
	h.cancelFunc()

	if err := h.producer.Close(); err != nil {
		logger.L.Error("Failed to close Kafka producer", zap.Error(err))
	}
	if err := h.consumer.Close(); err != nil {
		logger.L.Error("Failed to close Kafka consumer group", zap.Error(err))
	}

	return nil
}

// Register 在Hub中注册客户端
func (h *KafkaHub) Register(client interfaces.Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	userID := client.GetUserID()
	h.clients[userID] = client
	logger.L.Info("Client registered with KafkaHub", zap.Uint("userID", userID))

	if h.eventHandler != nil {
		go h.eventHandler.HandleUserConnected(userID)
	}
}

// Unregister 从Hub中注销客户端
func (h *KafkaHub) Unregister(client interfaces.Client) {
	h.clientsMu.Lock()
	userID := client.GetUserID()
	registered, ok := h.clients[userID]
	if ok && registered == client {
		client.Close()
		delete(h.clients, userID)
	}
	h.clientsMu.Unlock()

	if ok && registered == client {
		// 断连即离开本实例的全部房间
		h.roomsMu.Lock()
		for groupID, members := range h.rooms {
			if _, in := members[userID]; in {
				delete(members, userID)
				if len(members) == 0 {
					delete(h.rooms, groupID)
				}
			}
		}
		h.roomsMu.Unlock()

		logger.L.Info("Client unregistered from KafkaHub", zap.Uint("userID", userID))
		if h.eventHandler != nil {
			go h.eventHandler.HandleUserDisconnected(userID)
		}
	}
}

func (h *KafkaHub) JoinRoom(groupID, userID uint) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	members, ok := h.rooms[groupID]
	if !ok {
		members = make(map[uint]struct{})
		h.rooms[groupID] = members
	}
	members[userID] = struct{}{}
}

func (h *KafkaHub) LeaveRoom(groupID, userID uint) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if members, ok := h.rooms[groupID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, groupID)
		}
	}
}

// 构建Kafka主题名称
func (h *KafkaHub) buildTopicName(messageType string) string {
	return fmt.Sprintf("%s_%s", h.cfg.TopicPrefix, messageType)
}

// Kafka直接消息的结构
type kafkaDirectMessage struct {
	UserID  uint   `json:"user_id"`
	Payload []byte `json:"payload"` // 编码后的事件信封
}

// Kafka房间广播的结构
type kafkaRoomMessage struct {
	GroupID uint   `json:"group_id"`
	Except  uint   `json:"except"`
	Payload []byte `json:"payload"`
}

// 发送事件给指定用户
func (h *KafkaHub) SendToUser(userID uint, env event.Envelope) (bool, error) {
	data, err := env.Encode()
	if err != nil {
		return false, err
	}

	// 先检查用户是否在线（本地连接）
	h.clientsMu.RLock()
	client, online := h.clients[userID]
	h.clientsMu.RUnlock()

	// 如果用户已在本地连接，直接发送
	if online {
		if err := client.QueueBytes(data); err != nil {
			logger.L.Warn("Failed to queue event to local client",
				zap.Uint("targetUserID", userID), zap.Error(err))
			return false, fmt.Errorf("failed to queue event: %w", err)
		}
		return true, nil
	}

	// 否则发送到Kafka，让其他实例上的该用户接收
	directMsg := &kafkaDirectMessage{UserID: userID, Payload: data}
	msgBytes, err := json.Marshal(directMsg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal direct message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: h.buildTopicName("direct"),
		Value: sarama.ByteEncoder(msgBytes),
	}

	if _, _, err := h.producer.SendMessage(kafkaMsg); err != nil {
		logger.L.Error("Failed to send direct event to Kafka",
			zap.Uint("userID", userID), zap.Error(err))
		return false, fmt.Errorf("failed to send event to Kafka: %w", err)
	}

	// 事件已发送到Kafka，但用户可能不在线，返回false
	return false, nil
}

// 广播事件到群组房间（所有实例）
func (h *KafkaHub) BroadcastToRoom(groupID uint, env event.Envelope, exceptUserID uint) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	roomMsg := &kafkaRoomMessage{GroupID: groupID, Except: exceptUserID, Payload: data}
	msgBytes, err := json.Marshal(roomMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal room message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: h.buildTopicName("room"),
		Value: sarama.ByteEncoder(msgBytes),
	}

	if _, _, err := h.producer.SendMessage(kafkaMsg); err != nil {
		logger.L.Error("Failed to send room event to Kafka",
			zap.Uint("groupID", groupID), zap.Error(err))
		return fmt.Errorf("failed to send event to Kafka: %w", err)
	}

	logger.L.Debug("Room event sent to Kafka", zap.Uint("groupID", groupID))
	return nil
}

// 检查客户端是否连接
func (h *KafkaHub) IsClientConnected(userID uint) bool {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *KafkaHub) ActiveUsers() []uint {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	ids := make([]uint, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// 设置事件处理器
func (h *KafkaHub) SetEventHandler(handler interfaces.ConnectionEventHandler) {
	h.eventHandler = handler
}

// 消费Kafka消息
func (h *KafkaHub) consumeMessages() {
	handler := &kafkaConsumerHandler{hub: h}

	topics := []string{
		h.buildTopicName("direct"),
		h.buildTopicName("room"),
	}

	// 启动消费循环
	for {
		select {
		case <-h.ctx.Done():
			logger.L.Info("Stopping Kafka consumer")
			return
		default:
			err := h.consumer.Consume(h.ctx, topics, handler)
			if err != nil {
				logger.L.Error("Kafka consumer error", zap.Error(err))
				time.Sleep(5 * time.Second) // 失败时等待一段时间再重试
			}
		}
	}
}

// Kafka消费者处理器
type kafkaConsumerHandler struct {
	hub *KafkaHub
}

// Setup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		switch message.Topic {
		case h.hub.buildTopicName("direct"):
			h.handleDirectMessage(message.Value)
		case h.hub.buildTopicName("room"):
			h.handleRoomMessage(message.Value)
		}

		// 标记消息已处理
		session.MarkMessage(message, "")
	}
	return nil
}

// 处理房间广播
func (h *kafkaConsumerHandler) handleRoomMessage(data []byte) {
	var roomMsg kafkaRoomMessage
	if err := json.Unmarshal(data, &roomMsg); err != nil {
		logger.L.Error("Failed to unmarshal room message", zap.Error(err))
		return
	}

	// 本实例房间内的成员
	h.hub.roomsMu.Lock()
	memberIDs := make([]uint, 0, len(h.hub.rooms[roomMsg.GroupID]))
	for userID := range h.hub.rooms[roomMsg.GroupID] {
		if userID != roomMsg.Except {
			memberIDs = append(memberIDs, userID)
		}
	}
	h.hub.roomsMu.Unlock()

	h.hub.clientsMu.RLock()
	targets := make([]interfaces.Client, 0, len(memberIDs))
	for _, userID := range memberIDs {
		if client, ok := h.hub.clients[userID]; ok {
			targets = append(targets, client)
		}
	}
	h.hub.clientsMu.RUnlock()

	for _, client := range targets {
		if err := client.QueueBytes(roomMsg.Payload); err != nil {
			logger.L.Warn("Failed to queue room event to client",
				zap.Uint("userID", client.GetUserID()), zap.Error(err))
		}
	}
}

// 处理直接消息
func (h *kafkaConsumerHandler) handleDirectMessage(data []byte) {
	var directMsg kafkaDirectMessage
	if err := json.Unmarshal(data, &directMsg); err != nil {
		logger.L.Error("Failed to unmarshal direct message", zap.Error(err))
		return
	}

	h.hub.clientsMu.RLock()
	client, online := h.hub.clients[directMsg.UserID]
	h.hub.clientsMu.RUnlock()

	if online {
		if err := client.QueueBytes(directMsg.Payload); err != nil {
			logger.L.Warn("Failed to queue direct event to client",
				zap.Uint("userID", directMsg.UserID), zap.Error(err))
		}
	}
}
