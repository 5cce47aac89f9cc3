package interfaces

import "go-social-chat/internal/event"

type Client interface {
	GetUserID() uint
	QueueBytes(data []byte) error
	Close()
}

// 定义了处理传入事件帧的接口
// service.EventRouter实现
type EventHandler interface {
	HandleEvent(frame []byte, senderID uint)
}

// 定义了处理连接事件的方法
// service.ChatService实现
type ConnectionEventHandler interface {
	HandleUserConnected(userID uint)
	HandleUserDisconnected(userID uint) // 可选
}

type ConnectionManager interface {
	Register(client Client)
	Unregister(client Client)
	// 发送给单个用户。返回该用户此刻是否在本实例在线
	SendToUser(userID uint, env event.Envelope) (sent bool, err error)
	// 发送给群组房间内的所有在线成员，exceptUserID为0时不排除任何人
	BroadcastToRoom(groupID uint, env event.Envelope, exceptUserID uint) error
	JoinRoom(groupID, userID uint)
	LeaveRoom(groupID, userID uint)
	IsClientConnected(userID uint) bool
	ActiveUsers() []uint
	SetEventHandler(handler ConnectionEventHandler)
}
