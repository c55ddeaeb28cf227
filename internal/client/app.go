package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/BridgeRelay/internal/config"
)

const (
	pipeHistoryLimit = 200
	chatHistoryLimit = 1000
	noRoom           = "-"
)

type viewMode int

const (
	viewChat viewMode = iota
	viewPipe
	viewHelp
)

func (v viewMode) String() string {
	switch v {
	case viewChat:
		return "chat"
	case viewPipe:
		return "pipe"
	case viewHelp:
		return "help"
	default:
		return "unknown"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logEntry struct {
	level logLevel
	label string
	body  string
}

type pipeDirection string

const (
	pipeDirectionIn  pipeDirection = "IN"
	pipeDirectionOut pipeDirection = "OUT"
)

type pipeEntry struct {
	direction   pipeDirection
	messageType string
	timestamp   time.Time
	body        string
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type styleSet struct {
	brand    lipgloss.Style
	mode     lipgloss.Style
	online   lipgloss.Style
	offline  lipgloss.Style
	key      lipgloss.Style
	value    lipgloss.Style
	room     lipgloss.Style
	logInfo  lipgloss.Style
	logError lipgloss.Style
	logText  lipgloss.Style
	hint     lipgloss.Style
	pipeIn   lipgloss.Style
	pipeOut  lipgloss.Style
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type sessionFrameMsg struct {
	session *Session
	data    []byte
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	session     *Session
	description string
	err         error
}

// App implements the bubbletea tea.Model interface for the relay terminal client.
type App struct {
	cfg      config.ClientConfig
	input    textinput.Model
	viewport viewport.Model
	helper   help.Model
	styles   styleSet
	commands []commandSpec

	session      *Session
	serverURL    string
	statusOnline bool
	clientID     string
	clientType   string
	room         string

	view        viewMode
	chatHistory []string
	pipeHistory []pipeEntry
	logLine     logEntry

	width      int
	height     int
	showHelp   bool
	helpView   string
	helpHeight int
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = fmt.Sprintf("type a message or %shelp", string(cfg.CommandPrefix))
	input.Focus()

	a := &App{
		cfg:         cfg,
		input:       input,
		viewport:    viewport.New(0, 0),
		helper:      help.New(),
		styles:      buildStyles(),
		commands:    defaultCommands(cfg.CommandPrefix),
		serverURL:   cfg.ServerURL,
		clientType:  cfg.ClientType,
		room:        noRoom,
		view:        viewChat,
		chatHistory: make([]string, 0, 64),
		pipeHistory: make([]pipeEntry, 0, pipeHistoryLimit),
	}
	a.logf("Use %sconnect to reach %s", string(cfg.CommandPrefix), cfg.ServerURL)
	a.updateViewportContent()
	return a
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and session events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateInputWidth()
		a.updateHelp()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case sessionFrameMsg:
		if m.session != a.session {
			return a, nil
		}
		cmd := a.handleSessionFrame(m.data)
		return a, tea.Batch(cmd, a.listenForSession())
	case sessionClosedMsg:
		if m.session == a.session {
			a.markOffline()
			a.logErrorf("Connection closed")
		}
		return a, nil
	case sendResultMsg:
		if m.err != nil {
			a.logErrorf("Failed to send %s: %v", m.description, m.err)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if a.session != nil {
			_ = a.session.Close()
		}
		return a, tea.Quit
	case tea.KeyTab:
		a.handleTabCompletion()
		a.updateHelp()
		a.updateViewportSize()
		return a, nil
	case tea.KeyEnter:
		value := a.input.Value()
		a.input.Reset()
		a.updateHelp()
		a.updateViewportSize()
		if strings.TrimSpace(value) == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, cmd
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		_ = msg.session.Close()
		return nil
	}
	if msg.err != nil {
		a.session = nil
		a.markOffline()
		a.logErrorf("Connection failed: %v", msg.err)
		return nil
	}
	a.statusOnline = true
	a.logf("Connected to %s", msg.address)
	return a.listenForSession()
}

func (a *App) markOffline() {
	a.session = nil
	a.statusOnline = false
	a.clientID = ""
	a.room = noRoom
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}
