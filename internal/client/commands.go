package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/BridgeRelay/internal/protocol"
)

const sendTimeout = 5 * time.Second

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	prefix := string(a.cfg.CommandPrefix)
	name := strings.ToLower(strings.TrimPrefix(fields[0], prefix))
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), fields[0]))

	var cmd tea.Cmd
	switch name {
	case "chat":
		a.view = viewChat
		a.logf("Switched to CHAT view")
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "pipe":
		if len(args) > 0 && strings.EqualFold(args[0], "clear") {
			a.pipeHistory = make([]pipeEntry, 0, pipeHistoryLimit)
			a.logf("Cleared pipe history")
			break
		}
		a.view = viewPipe
		a.logf("Switched to PIPE view")
	case "connect":
		target := a.serverURL
		if len(args) > 0 {
			target = normalizeServerURL(args[0])
		}
		if target == "" {
			a.logErrorf("Provide a server URL to connect")
			break
		}
		cmd = a.connectToServer(target)
	case "register":
		if !a.requireConnection() {
			break
		}
		kind := a.clientType
		if len(args) > 0 {
			kind = args[0]
		}
		metadata, ok := parseMetadata(args)
		if !ok {
			a.logErrorf("Usage: %sregister [type] [key=value ...]", prefix)
			break
		}
		a.logf("Registering as %s ...", kind)
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeRegister, ClientType: kind, Metadata: metadata}, "register")
	case "join":
		if len(args) < 1 {
			a.logErrorf("Usage: %sjoin <room>", prefix)
			break
		}
		if !a.requireConnection() {
			break
		}
		a.logf("Joining room %s ...", args[0])
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeJoinRoom, RoomID: args[0]}, "join")
	case "leave":
		if !a.requireConnection() {
			break
		}
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeLeaveRoom}, "leave")
	case "broadcast", "all":
		if rest == "" {
			a.logErrorf("Usage: %sbroadcast <text|json>", prefix)
			break
		}
		if !a.requireConnection() {
			break
		}
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeBroadcast, Data: payloadFromText(rest)}, "broadcast")
	case "room":
		if rest == "" {
			a.logErrorf("Usage: %sroom <text|json>", prefix)
			break
		}
		if !a.requireConnection() {
			break
		}
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeRoomBroadcast, Data: payloadFromText(rest)}, "room broadcast")
	case "dm":
		if len(args) < 2 {
			a.logErrorf("Usage: %sdm <client-id|type> <text|json>", prefix)
			break
		}
		if !a.requireConnection() {
			break
		}
		target := args[0]
		body := strings.TrimSpace(strings.TrimPrefix(rest, target))
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeDirect, TargetID: target, Data: payloadFromText(body)}, "direct message")
	case "ping":
		if !a.requireConnection() {
			break
		}
		cmd = a.sendFrame(protocol.Inbound{Type: protocol.MessageTypePing}, "ping")
	case "quit", "exit":
		a.logf("Exiting client")
		if a.session != nil {
			_ = a.session.Close()
		}
		a.markOffline()
		cmd = tea.Quit
	default:
		a.logErrorf("Command %s not implemented", fields[0])
	}

	a.updateViewportContent()
	return cmd
}

func (a *App) connectToServer(target string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
	}

	session := NewSession(target)
	a.session = session
	a.serverURL = target
	a.statusOnline = false
	a.clientID = ""
	a.room = noRoom
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		err := session.Connect(ctx)
		return connectResultMsg{session: session, address: target, err: err}
	}
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		data, ok := <-session.Messages()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return sessionFrameMsg{session: session, data: data}
	}
}

func (a *App) sendChatMessage(content string) tea.Cmd {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if !a.requireConnection() {
		return nil
	}
	if a.hasActiveRoom() {
		return a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeRoomBroadcast, Data: payloadFromText(content)}, "room broadcast")
	}
	return a.sendFrame(protocol.Inbound{Type: protocol.MessageTypeBroadcast, Data: payloadFromText(content)}, "broadcast")
}

func (a *App) sendFrame(msg protocol.Inbound, description string) tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		a.logErrorf("Failed to encode %s: %v", description, err)
		return nil
	}
	a.appendPipeEntry(pipeDirectionOut, data)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return sendResultMsg{session: session, description: description, err: session.Send(ctx, data)}
	}
}

func (a *App) requireConnection() bool {
	if a.session == nil || !a.statusOnline {
		a.logErrorf("Not connected. Use %sconnect first.", string(a.cfg.CommandPrefix))
		return false
	}
	return true
}

// parseMetadata reads key=value pairs following the optional client type.
func parseMetadata(args []string) (map[string]interface{}, bool) {
	metadata := map[string]interface{}{}
	if len(args) < 2 {
		return metadata, true
	}
	for _, pair := range args[1:] {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, false
		}
		metadata[key] = value
	}
	return metadata, true
}

// normalizeServerURL accepts host:port shorthands and plain http URLs.
func normalizeServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	default:
		return "ws://" + raw + "/ws"
	}
}

func defaultCommands(prefix rune) []commandSpec {
	p := string(prefix)
	return []commandSpec{
		{trigger: p + "connect", usage: p + "connect [url]", description: "Connect to the relay"},
		{trigger: p + "register", usage: p + "register [type] [k=v ...]", description: "Announce client type and metadata"},
		{trigger: p + "join", usage: p + "join <room>", description: "Join a room"},
		{trigger: p + "leave", usage: p + "leave", description: "Leave the current room"},
		{trigger: p + "broadcast", usage: p + "broadcast <data>", description: "Send to every other client"},
		{trigger: p + "room", usage: p + "room <data>", description: "Send to the current room"},
		{trigger: p + "dm", usage: p + "dm <id|type> <data>", description: "Send to one client by id or type"},
		{trigger: p + "ping", usage: p + "ping", description: "Application-level ping"},
		{trigger: p + "chat", usage: p + "chat", description: "Switch to chat view"},
		{trigger: p + "pipe", usage: p + "pipe [clear]", description: "Inspect raw JSON frames"},
		{trigger: p + "help", usage: p + "help", description: "Show command help"},
		{trigger: p + "quit", usage: p + "quit", description: "Exit the client"},
	}
}
