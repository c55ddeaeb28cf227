package protocol

import "encoding/json"

// MessageType enumerates the relay vocabulary. Every frame carries one in its "type" field.
type MessageType string

// Inbound types sent by clients.
const (
	MessageTypeRegister      MessageType = "register"
	MessageTypeJoinRoom      MessageType = "join_room"
	MessageTypeLeaveRoom     MessageType = "leave_room"
	MessageTypeBroadcast     MessageType = "broadcast"
	MessageTypeRoomBroadcast MessageType = "room_broadcast"
	MessageTypeDirect        MessageType = "direct_message"
	MessageTypePing          MessageType = "ping"
)

// Outbound types produced by the relay.
const (
	MessageTypeWelcome            MessageType = "welcome"
	MessageTypeRegistered         MessageType = "registered"
	MessageTypeClientRegistered   MessageType = "client_registered"
	MessageTypeRoomJoined         MessageType = "room_joined"
	MessageTypeClientJoinedRoom   MessageType = "client_joined_room"
	MessageTypeRoomLeft           MessageType = "room_left"
	MessageTypeClientLeftRoom     MessageType = "client_left_room"
	MessageTypeBroadcastMessage   MessageType = "broadcast_message"
	MessageTypeBroadcastSent      MessageType = "broadcast_sent"
	MessageTypeRoomMessage        MessageType = "room_message"
	MessageTypeRoomBroadcastSent  MessageType = "room_broadcast_sent"
	MessageTypeDirectSent         MessageType = "direct_message_sent"
	MessageTypePong               MessageType = "pong"
	MessageTypeError              MessageType = "error"
	MessageTypeClientDisconnected MessageType = "client_disconnected"
	MessageTypeAPIBroadcast       MessageType = "api_broadcast"
	MessageTypeAPIRoomBroadcast   MessageType = "api_room_broadcast"
)

// Client-facing error texts.
const (
	ErrTextInvalidJSON    = "Invalid JSON format"
	ErrTextUnknownType    = "Unknown message type"
	ErrTextNotInRoom      = "Not in any room"
	ErrTextTargetNotFound = "Target client not found"
	ErrTextRoomRequired   = "Room id required"
)

// DefaultClientType is the kind every connection starts with.
const DefaultClientType = "unknown"

// Inbound is the union of fields any client frame may carry. Unknown fields are ignored.
type Inbound struct {
	Type       MessageType     `json:"type"`
	ClientType string          `json:"clientType,omitempty"`
	Metadata   interface{}     `json:"metadata,omitempty"`
	RoomID     string          `json:"roomId,omitempty"`
	TargetID   string          `json:"targetId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ServerInfo is attached to the welcome frame.
type ServerInfo struct {
	Timestamp string `json:"timestamp"`
}

// Welcome is the first frame a new connection receives.
type Welcome struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"clientId"`
	Message    string      `json:"message"`
	ServerInfo ServerInfo  `json:"serverInfo"`
}

type Registered struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"clientId"`
	ClientType string      `json:"clientType"`
}

type ClientRegistered struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"clientId"`
	ClientType string      `json:"clientType"`
	Metadata   interface{} `json:"metadata"`
}

type RoomJoined struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
}

type ClientJoinedRoom struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"clientId"`
	ClientType string      `json:"clientType"`
	RoomID     string      `json:"roomId"`
}

// RoomLeft reports the room that was left; RoomID is null when the sender was in none.
type RoomLeft struct {
	Type   MessageType `json:"type"`
	RoomID *string     `json:"roomId"`
}

type ClientLeftRoom struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
	RoomID   string      `json:"roomId"`
}

type BroadcastMessage struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	FromType  string          `json:"fromType"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type BroadcastSent struct {
	Type   MessageType `json:"type"`
	SentTo int         `json:"sentTo"`
}

type RoomMessage struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	FromType  string          `json:"fromType"`
	RoomID    string          `json:"roomId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type RoomBroadcastSent struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
	SentTo int         `json:"sentTo"`
}

type DirectMessage struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	FromType  string          `json:"fromType"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type DirectMessageSent struct {
	Type     MessageType `json:"type"`
	TargetID string      `json:"targetId"`
}

type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// Error carries every client-facing failure. It never closes the connection.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ClientDisconnected struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
}

// APIBroadcast is pushed to clients by a control-plane broadcast.
type APIBroadcast struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// APIRoomBroadcast is pushed to room members by a control-plane room broadcast.
type APIRoomBroadcast struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}
