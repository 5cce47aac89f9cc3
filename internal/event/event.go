package event

import (
	"encoding/json"
	"fmt"
)

// WebSocket上传输的统一事件信封：{"event": 名称, "data": 负载}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// 服务端推送给客户端的事件
const (
	AddMessageToClient      = "addMessageToClient"
	AddGroupMessageToClient = "addGroupMessageToClient"
	Typing                  = "typing"
	StopTyping              = "stopTyping"
	JoinGroup               = "joinGroup"
	LeaveGroup              = "leaveGroup"
	GroupUpdated            = "groupUpdated"
	MemberJoined            = "memberJoined"
	MemberLeft              = "memberLeft"
	MemberPromoted          = "memberPromoted"
	MemberRemoved           = "memberRemoved"
	MessageDeleted          = "messageDeleted"
	MessagesRead            = "messagesRead"
	ActiveUsers             = "getActiveUsers"
)

// 客户端发给服务端的事件
const (
	AddMessageToServer      = "addMessageToServer"
	AddGroupMessageToServer = "addGroupMessageToServer"
)

func Marshal(name string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Envelope{Event: name, Data: raw}, nil
}

func MustMarshal(name string, data interface{}) Envelope {
	env, err := Marshal(name, data)
	if err != nil {
		panic(err)
	}
	return env
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("event envelope missing event name")
	}
	return env, nil
}
