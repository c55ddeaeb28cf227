package client

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

// rows taken by the input, log and status lines under the viewport.
const chromeRows = 3

var homeContent = buildHomeContent()

// View renders the viewport, the command hints, and the three footer rows.
func (a *App) View() string {
	sections := []string{a.viewport.View()}
	if a.showHelp {
		sections = append(sections, a.styles.hint.Render(a.helpView))
	}
	sections = append(sections, a.input.View(), a.logLineView(), a.statusLine())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) updateViewportContent() {
	width := a.viewport.Width
	if width <= 0 {
		width = a.width
	}
	switch a.view {
	case viewChat:
		if len(a.chatHistory) == 0 {
			a.viewport.SetContent(homeContent)
			return
		}
		a.viewport.SetContent(strings.Join(wrapLines(a.chatHistory, width), "\n"))
		a.viewport.GotoBottom()
	case viewPipe:
		a.viewport.SetContent(a.renderPipeView())
		a.viewport.GotoBottom()
	case viewHelp:
		a.viewport.SetContent(a.renderHelpView())
		a.viewport.GotoTop()
	}
}

func (a *App) hasActiveRoom() bool {
	room := strings.TrimSpace(a.room)
	return room != "" && room != noRoom
}

func (a *App) updateViewportSize() {
	if a.height <= 0 {
		return
	}
	a.viewport.Width = a.width
	a.viewport.Height = max(a.height-chromeRows-a.helpHeight, 3)
}

func (a *App) updateInputWidth() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	a.input.Width = max(width-lipgloss.Width(a.input.Prompt)-1, 10)
}

// updateHelp shows the commands matching the first word typed so far.
func (a *App) updateHelp() {
	a.showHelp, a.helpView, a.helpHeight = false, "", 0

	value := a.input.Value()
	if !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return
	}
	word, _, _ := strings.Cut(value, " ")
	bindings := a.matchingBindings(strings.TrimSpace(word))
	if len(bindings) == 0 {
		return
	}

	a.helper.Width = a.width
	a.helpView = strings.TrimRight(a.helper.View(dynamicKeyMap{keys: bindings}), "\n")
	a.helpHeight = countLines(a.helpView)
	a.showHelp = a.helpView != ""
}

func (a *App) matchingBindings(prefix string) []key.Binding {
	prefix = strings.ToLower(prefix)
	var bindings []key.Binding
	for _, c := range a.commands {
		if !strings.HasPrefix(c.trigger, prefix) {
			continue
		}
		bindings = append(bindings, key.NewBinding(key.WithKeys(c.trigger), key.WithHelp(c.usage, c.description)))
	}
	return bindings
}

func (a *App) statusLine() string {
	state := a.styles.offline.Render("OFFLINE")
	if a.statusOnline {
		state = a.styles.online.Render("ONLINE")
	}
	room := a.styles.value.Render(a.room)
	if a.hasActiveRoom() {
		room = a.styles.room.Render(a.room)
	}

	field := func(name, value string) string {
		return a.styles.key.Render(name+" ") + value
	}
	return strings.Join([]string{
		a.styles.brand.Render("BRIDGE"),
		a.styles.mode.Render(strings.ToUpper(a.view.String())),
		state,
		field("server", a.styles.value.Render(a.serverURL)),
		field("id", a.styles.value.Render(orDash(shortID(a.clientID)))),
		field("type", a.styles.value.Render(orDash(a.clientType))),
		field("room", room),
	}, "  ")
}

func (a *App) logLineView() string {
	if a.logLine.level == logLevelError {
		return a.styles.logError.Render(a.logLine.label) + " " + a.styles.logError.Render(a.logLine.body)
	}
	return a.styles.logInfo.Render(a.logLine.label) + " " + a.styles.logText.Render(a.logLine.body)
}

func buildStyles() styleSet {
	bold := lipgloss.NewStyle().Bold(true)
	plain := lipgloss.NewStyle()
	return styleSet{
		brand:    bold.Foreground(lipgloss.Color("6")),
		mode:     bold.Foreground(lipgloss.Color("5")),
		online:   bold.Foreground(lipgloss.Color("2")),
		offline:  bold.Foreground(lipgloss.Color("1")),
		key:      plain.Foreground(lipgloss.Color("8")),
		value:    plain.Foreground(lipgloss.Color("15")),
		room:     bold.Foreground(lipgloss.Color("3")),
		logInfo:  bold.Foreground(lipgloss.Color("4")),
		logError: bold.Foreground(lipgloss.Color("1")),
		logText:  plain.Foreground(lipgloss.Color("7")),
		hint:     plain.Foreground(lipgloss.Color("12")),
		pipeIn:   bold.Foreground(lipgloss.Color("2")),
		pipeOut:  bold.Foreground(lipgloss.Color("3")),
	}
}

func (a *App) renderHelpView() string {
	var b strings.Builder
	b.WriteString("Bridge relay client\n\n")
	width := 0
	for _, c := range a.commands {
		width = max(width, runewidth.StringWidth(c.usage))
	}
	for _, c := range a.commands {
		fmt.Fprintf(&b, "  %s  %s\n", runewidth.FillRight(c.usage, width), c.description)
	}
	b.WriteString("\nPlain text goes to the current room, or to everyone when no room is joined.\n")
	b.WriteString("Data that parses as JSON is sent as-is; anything else is sent as a string.\n")
	b.WriteString("Tab completes commands, PgUp/PgDn scroll, Ctrl+C quits.")
	return b.String()
}

func (a *App) renderPipeView() string {
	if len(a.pipeHistory) == 0 {
		return fmt.Sprintf("No frames yet. Frames you send and receive show up here; %spipe clear resets the log.", string(a.cfg.CommandPrefix))
	}
	blocks := make([]string, 0, len(a.pipeHistory))
	for _, entry := range a.pipeHistory {
		style := a.styles.pipeIn
		if entry.direction == pipeDirectionOut {
			style = a.styles.pipeOut
		}
		kind := entry.messageType
		if kind == "" {
			kind = "?"
		}
		header := fmt.Sprintf("%s %-3s %s", entry.timestamp.Format("15:04:05.000"), entry.direction, kind)
		blocks = append(blocks, style.Render(header)+"\n"+entry.body)
	}
	return strings.Join(blocks, "\n\n")
}

func buildHomeContent() string {
	banner := strings.TrimRight(figure.NewFigure("BRIDGE", "slant", true).String(), "\n")
	return banner + "\n\n" + strings.Join([]string{
		"Use /connect [url] to reach the relay.",
		"Use /register [type] [k=v ...] to announce yourself.",
		"Use /join <room>, then type to talk to the room.",
		"Use /dm <id|type> <data> to address one client.",
		"Use /pipe to inspect raw frames, /help for everything else.",
	}, "\n")
}

func orDash(s string) string {
	if s == "" {
		return noRoom
	}
	return s
}

// wrapLines word-wraps every line to width display cells. Words wider than
// width are split.
func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	width = max(width, 10)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, wrapLine(line, width)...)
	}
	return out
}

func wrapLine(line string, width int) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		rows    []string
		current strings.Builder
		used    int
	)
	flush := func() {
		if current.Len() > 0 {
			rows = append(rows, current.String())
			current.Reset()
			used = 0
		}
	}
	for _, word := range words {
		w := runewidth.StringWidth(word)
		if used > 0 && used+1+w <= width {
			current.WriteByte(' ')
			current.WriteString(word)
			used += 1 + w
			continue
		}
		flush()
		for w > width {
			head := runewidth.Truncate(word, width, "")
			if head == "" {
				// a single rune wider than the row
				_, size := utf8.DecodeRuneInString(word)
				head = word[:size]
			}
			rows = append(rows, head)
			word = word[len(head):]
			w = runewidth.StringWidth(word)
		}
		current.WriteString(word)
		used = w
	}
	flush()
	return rows
}

type dynamicKeyMap struct {
	keys []key.Binding
}

func (d dynamicKeyMap) ShortHelp() []key.Binding {
	return d.keys
}

func (d dynamicKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{d.keys}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
