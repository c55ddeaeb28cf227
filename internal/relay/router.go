package relay

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/protocol"
)

const welcomeText = "Connected to Bridge Server"

// Router turns inbound frames into registry mutations and outbound envelopes.
type Router struct {
	reg     *Registry
	log     *zap.Logger
	metrics Metrics
	journal Journal
	now     func() time.Time
}

// NewRouter wires a router over reg. Nil metrics or journal are replaced with no-ops.
func NewRouter(reg *Registry, logger *zap.Logger, m Metrics, journal Journal) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	if journal == nil {
		journal = nopJournal{}
	}
	return &Router{
		reg:     reg,
		log:     logger,
		metrics: m,
		journal: journal,
		now:     time.Now,
	}
}

// Registry exposes the state the router routes over.
func (r *Router) Registry() *Registry {
	return r.reg
}

// Connect registers peer and greets it with its id.
func (r *Router) Connect(peer Peer) string {
	id := r.reg.Register(peer)
	now := r.now()
	r.reply(id, protocol.Welcome{
		Type:       protocol.MessageTypeWelcome,
		ClientID:   id,
		Message:    welcomeText,
		ServerInfo: protocol.ServerInfo{Timestamp: protocol.Timestamp(now)},
	})
	r.journal.Record(LifecycleEvent{Kind: EventConnected, ClientID: id, ClientType: protocol.DefaultClientType, At: now})
	r.log.Info("client connected", zap.String("client_id", id))
	return id
}

// Disconnect runs the termination sequence: room eviction with notice to the
// former room, registry removal, and a disconnect notice to everyone left.
func (r *Router) Disconnect(id string) {
	conn, ok := r.reg.Remove(id)
	if !ok {
		return
	}
	if conn.Room != "" {
		r.reg.BroadcastRoom(conn.Room, r.encode(protocol.ClientLeftRoom{
			Type:     protocol.MessageTypeClientLeftRoom,
			ClientID: id,
			RoomID:   conn.Room,
		}), id)
		r.journal.Record(LifecycleEvent{Kind: EventLeftRoom, ClientID: id, ClientType: conn.Kind, RoomID: conn.Room, At: r.now()})
	}
	r.reg.Broadcast(r.encode(protocol.ClientDisconnected{
		Type:     protocol.MessageTypeClientDisconnected,
		ClientID: id,
	}), id)
	r.journal.Record(LifecycleEvent{Kind: EventDisconnected, ClientID: id, ClientType: conn.Kind, At: r.now()})
	r.log.Info("client disconnected", zap.String("client_id", id), zap.String("client_type", conn.Kind))
}

// Touch records a transport-level liveness acknowledgment.
func (r *Router) Touch(id string) {
	r.reg.TouchLiveness(id)
}

// Handle processes one inbound frame from id. Every failure is reported to the
// sender as an error envelope; nothing here tears the connection down.
func (r *Router) Handle(id string, frame []byte) {
	sender, ok := r.reg.Get(id)
	if !ok {
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		r.metrics.ObserveInbound("invalid")
		r.log.Warn("invalid frame", zap.String("client_id", id), zap.Error(err))
		r.replyError(id, protocol.ErrTextInvalidJSON)
		return
	}

	r.log.Debug("message received", zap.String("client_id", id), zap.String("type", string(msg.Type)))

	switch msg.Type {
	case protocol.MessageTypeRegister:
		r.handleRegister(sender, msg)
	case protocol.MessageTypeJoinRoom:
		r.handleJoinRoom(sender, msg)
	case protocol.MessageTypeLeaveRoom:
		r.handleLeaveRoom(sender)
	case protocol.MessageTypeBroadcast:
		r.handleBroadcast(sender, msg)
	case protocol.MessageTypeRoomBroadcast:
		r.handleRoomBroadcast(sender, msg)
	case protocol.MessageTypeDirect:
		r.handleDirect(sender, msg)
	case protocol.MessageTypePing:
		r.reply(id, protocol.Pong{Type: protocol.MessageTypePong, Timestamp: protocol.Timestamp(r.now())})
	default:
		r.metrics.ObserveInbound("unknown")
		r.replyError(id, protocol.ErrTextUnknownType)
		return
	}
	r.metrics.ObserveInbound(string(msg.Type))
}

// BroadcastAll pushes a control-plane payload to every connection except exclude.
func (r *Router) BroadcastAll(data json.RawMessage, exclude string) int {
	frame := r.encode(protocol.APIBroadcast{
		Type:      protocol.MessageTypeAPIBroadcast,
		Data:      data,
		Timestamp: protocol.Timestamp(r.now()),
	})
	if frame == nil {
		return 0
	}
	return r.reg.Broadcast(frame, exclude)
}

// BroadcastRoom pushes a control-plane payload to the members of room except exclude.
func (r *Router) BroadcastRoom(room string, data json.RawMessage, exclude string) int {
	frame := r.encode(protocol.APIRoomBroadcast{
		Type:      protocol.MessageTypeAPIRoomBroadcast,
		RoomID:    room,
		Data:      data,
		Timestamp: protocol.Timestamp(r.now()),
	})
	if frame == nil {
		return 0
	}
	return r.reg.BroadcastRoom(room, frame, exclude)
}

func (r *Router) handleRegister(sender Connection, msg protocol.Inbound) {
	kind := msg.ClientType
	if kind == "" {
		kind = protocol.DefaultClientType
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if err := r.reg.SetIdentity(sender.ID, kind, metadata); err != nil {
		return
	}

	r.reply(sender.ID, protocol.Registered{
		Type:       protocol.MessageTypeRegistered,
		ClientID:   sender.ID,
		ClientType: kind,
	})
	r.reg.Broadcast(r.encode(protocol.ClientRegistered{
		Type:       protocol.MessageTypeClientRegistered,
		ClientID:   sender.ID,
		ClientType: kind,
		Metadata:   metadata,
	}), sender.ID)
	r.journal.Record(LifecycleEvent{Kind: EventRegistered, ClientID: sender.ID, ClientType: kind, At: r.now()})
	r.log.Info("client registered", zap.String("client_id", sender.ID), zap.String("client_type", kind))
}

func (r *Router) handleJoinRoom(sender Connection, msg protocol.Inbound) {
	room := msg.RoomID
	previous, err := r.reg.Join(sender.ID, room)
	if err != nil {
		if errors.Is(err, ErrRoomRequired) {
			r.replyError(sender.ID, protocol.ErrTextRoomRequired)
		}
		return
	}

	if previous != "" && previous != room {
		r.reg.BroadcastRoom(previous, r.encode(protocol.ClientLeftRoom{
			Type:     protocol.MessageTypeClientLeftRoom,
			ClientID: sender.ID,
			RoomID:   previous,
		}), sender.ID)
		r.journal.Record(LifecycleEvent{Kind: EventLeftRoom, ClientID: sender.ID, ClientType: sender.Kind, RoomID: previous, At: r.now()})
	}

	r.reply(sender.ID, protocol.RoomJoined{Type: protocol.MessageTypeRoomJoined, RoomID: room})
	r.reg.BroadcastRoom(room, r.encode(protocol.ClientJoinedRoom{
		Type:       protocol.MessageTypeClientJoinedRoom,
		ClientID:   sender.ID,
		ClientType: sender.Kind,
		RoomID:     room,
	}), sender.ID)
	r.journal.Record(LifecycleEvent{Kind: EventJoinedRoom, ClientID: sender.ID, ClientType: sender.Kind, RoomID: room, At: r.now()})
	r.log.Info("client joined room", zap.String("client_id", sender.ID), zap.String("room", room))
}

func (r *Router) handleLeaveRoom(sender Connection) {
	room, left := r.reg.Leave(sender.ID)
	if !left {
		r.reply(sender.ID, protocol.RoomLeft{Type: protocol.MessageTypeRoomLeft})
		return
	}

	r.reply(sender.ID, protocol.RoomLeft{Type: protocol.MessageTypeRoomLeft, RoomID: &room})
	r.reg.BroadcastRoom(room, r.encode(protocol.ClientLeftRoom{
		Type:     protocol.MessageTypeClientLeftRoom,
		ClientID: sender.ID,
		RoomID:   room,
	}), sender.ID)
	r.journal.Record(LifecycleEvent{Kind: EventLeftRoom, ClientID: sender.ID, ClientType: sender.Kind, RoomID: room, At: r.now()})
	r.log.Info("client left room", zap.String("client_id", sender.ID), zap.String("room", room))
}

func (r *Router) handleBroadcast(sender Connection, msg protocol.Inbound) {
	sent := 0
	if frame := r.encode(protocol.BroadcastMessage{
		Type:      protocol.MessageTypeBroadcastMessage,
		From:      sender.ID,
		FromType:  sender.Kind,
		Data:      msg.Data,
		Timestamp: protocol.Timestamp(r.now()),
	}); frame != nil {
		sent = r.reg.Broadcast(frame, sender.ID)
	}
	r.reply(sender.ID, protocol.BroadcastSent{Type: protocol.MessageTypeBroadcastSent, SentTo: sent})
}

func (r *Router) handleRoomBroadcast(sender Connection, msg protocol.Inbound) {
	timestamp := protocol.Timestamp(r.now())
	room, sent, ok := r.reg.BroadcastSenderRoom(sender.ID, func(room string) []byte {
		return r.encode(protocol.RoomMessage{
			Type:      protocol.MessageTypeRoomMessage,
			From:      sender.ID,
			FromType:  sender.Kind,
			RoomID:    room,
			Data:      msg.Data,
			Timestamp: timestamp,
		})
	})
	if !ok {
		r.replyError(sender.ID, protocol.ErrTextNotInRoom)
		return
	}
	r.reply(sender.ID, protocol.RoomBroadcastSent{Type: protocol.MessageTypeRoomBroadcastSent, RoomID: room, SentTo: sent})
}

func (r *Router) handleDirect(sender Connection, msg protocol.Inbound) {
	frame := r.encode(protocol.DirectMessage{
		Type:      protocol.MessageTypeDirect,
		From:      sender.ID,
		FromType:  sender.Kind,
		Data:      msg.Data,
		Timestamp: protocol.Timestamp(r.now()),
	})
	if frame == nil {
		return
	}
	target, ok := r.reg.SendToTarget(msg.TargetID, frame)
	if !ok {
		r.replyError(sender.ID, protocol.ErrTextTargetNotFound)
		return
	}
	r.log.Debug("direct message routed", zap.String("from", sender.ID), zap.String("to", target.ID))
	r.reply(sender.ID, protocol.DirectMessageSent{Type: protocol.MessageTypeDirectSent, TargetID: msg.TargetID})
}

func (r *Router) reply(id string, v interface{}) {
	if frame := r.encode(v); frame != nil {
		r.reg.Send(id, frame)
	}
}

func (r *Router) replyError(id, text string) {
	r.reply(id, protocol.Error{Type: protocol.MessageTypeError, Message: text})
}

func (r *Router) encode(v interface{}) []byte {
	frame, err := protocol.Encode(v)
	if err != nil {
		r.log.Error("encode frame", zap.Error(err))
		return nil
	}
	return frame
}
