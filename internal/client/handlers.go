package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/BridgeRelay/internal/protocol"
)

func (a *App) handleSessionFrame(data []byte) tea.Cmd {
	f, err := parseFrame(data)
	a.appendPipeEntry(pipeDirectionIn, data)
	if err != nil {
		a.logErrorf("Malformed frame: %v", err)
		return nil
	}
	if err := a.applyFrame(f); err != nil {
		a.logErrorf("Failed to handle %s: %v", f.Type, err)
	}
	return nil
}

func (a *App) applyFrame(f frame) error {
	switch f.Type {
	case protocol.MessageTypeWelcome:
		var msg protocol.Welcome
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.clientID = msg.ClientID
		a.logf("%s as %s", msg.Message, shortID(msg.ClientID))
	case protocol.MessageTypeRegistered:
		var msg protocol.Registered
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.clientType = msg.ClientType
		a.logf("Registered as %s", msg.ClientType)
	case protocol.MessageTypeClientRegistered:
		var msg protocol.ClientRegistered
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(fmt.Sprintf("* %s registered as %s", shortID(msg.ClientID), msg.ClientType))
	case protocol.MessageTypeRoomJoined:
		var msg protocol.RoomJoined
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.room = msg.RoomID
		a.logf("Joined room %s", msg.RoomID)
	case protocol.MessageTypeClientJoinedRoom:
		var msg protocol.ClientJoinedRoom
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(fmt.Sprintf("* %s (%s) joined %s", shortID(msg.ClientID), msg.ClientType, msg.RoomID))
	case protocol.MessageTypeRoomLeft:
		var msg protocol.RoomLeft
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		if msg.RoomID == nil {
			a.logf("Not in any room")
		} else {
			a.logf("Left room %s", *msg.RoomID)
		}
		a.room = noRoom
	case protocol.MessageTypeClientLeftRoom:
		var msg protocol.ClientLeftRoom
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(fmt.Sprintf("* %s left %s", shortID(msg.ClientID), msg.RoomID))
	case protocol.MessageTypeBroadcastMessage:
		var msg protocol.BroadcastMessage
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(formatRelayed(msg.Timestamp, "all", msg.From, msg.FromType, msg.Data))
	case protocol.MessageTypeRoomMessage:
		var msg protocol.RoomMessage
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(formatRelayed(msg.Timestamp, msg.RoomID, msg.From, msg.FromType, msg.Data))
	case protocol.MessageTypeDirect:
		var msg protocol.DirectMessage
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(formatRelayed(msg.Timestamp, "dm", msg.From, msg.FromType, msg.Data))
	case protocol.MessageTypeBroadcastSent:
		var msg protocol.BroadcastSent
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.logf("Broadcast delivered to %d client(s)", msg.SentTo)
	case protocol.MessageTypeRoomBroadcastSent:
		var msg protocol.RoomBroadcastSent
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.logf("Room %s: delivered to %d client(s)", msg.RoomID, msg.SentTo)
	case protocol.MessageTypeDirectSent:
		var msg protocol.DirectMessageSent
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.logf("Direct message sent to %s", msg.TargetID)
	case protocol.MessageTypePong:
		var msg protocol.Pong
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.logf("Pong at %s", msg.Timestamp)
	case protocol.MessageTypeError:
		var msg protocol.Error
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.logErrorf("Server: %s", msg.Message)
	case protocol.MessageTypeClientDisconnected:
		var msg protocol.ClientDisconnected
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(fmt.Sprintf("* %s disconnected", shortID(msg.ClientID)))
	case protocol.MessageTypeAPIBroadcast:
		var msg protocol.APIBroadcast
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(formatRelayed(msg.Timestamp, "server", "", "", msg.Data))
	case protocol.MessageTypeAPIRoomBroadcast:
		var msg protocol.APIRoomBroadcast
		if err := f.decodeInto(&msg); err != nil {
			return err
		}
		a.appendChatLine(formatRelayed(msg.Timestamp, "server:"+msg.RoomID, "", "", msg.Data))
	default:
		a.logErrorf("Received unknown %q frame", f.Type)
	}
	return nil
}

func (a *App) appendChatLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(a.chatHistory) >= chatHistoryLimit {
		a.chatHistory = append(a.chatHistory[1:], line)
	} else {
		a.chatHistory = append(a.chatHistory, line)
	}
	if a.view == viewChat {
		a.updateViewportContent()
	}
}

func (a *App) appendPipeEntry(direction pipeDirection, data []byte) {
	entry := pipeEntry{
		direction:   direction,
		messageType: string(protocol.PeekType(data)),
		timestamp:   time.Now(),
		body:        string(data),
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, data, "", "  "); err == nil {
		entry.body = indented.String()
	}
	if len(a.pipeHistory) >= pipeHistoryLimit {
		a.pipeHistory = append(a.pipeHistory[1:], entry)
	} else {
		a.pipeHistory = append(a.pipeHistory, entry)
	}
	if a.view == viewPipe {
		a.updateViewportContent()
	}
}

// formatRelayed renders one relayed payload as a chat line.
func formatRelayed(timestamp, channel, from, fromType string, data json.RawMessage) string {
	clock := timestamp
	if parsed, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		clock = parsed.Local().Format("15:04:05")
	}
	sender := "server"
	if from != "" {
		sender = shortID(from)
		if fromType != "" {
			sender = fmt.Sprintf("%s(%s)", sender, fromType)
		}
	}
	if clock == "" {
		return fmt.Sprintf("[%s] %s: %s", channel, sender, describeData(data))
	}
	return fmt.Sprintf("[%s] [%s] %s: %s", clock, channel, sender, describeData(data))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
