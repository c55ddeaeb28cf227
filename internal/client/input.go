package client

import "strings"

func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" || a.input.Position() != len([]rune(value)) {
		return
	}
	if !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) || strings.ContainsAny(value, " \t") {
		return
	}

	triggers := make([]string, 0, len(a.commands))
	for _, cmd := range a.commands {
		triggers = append(triggers, cmd.trigger)
	}
	if completed := completeCommand(value, triggers); completed != value {
		a.input.SetValue(completed)
		a.input.CursorEnd()
	}
}

// completeCommand extends segment to the longest prefix shared by every
// matching trigger. A single match also gets a trailing space.
func completeCommand(segment string, triggers []string) string {
	matches := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		if strings.HasPrefix(trigger, segment) {
			matches = append(matches, trigger)
		}
	}
	switch len(matches) {
	case 0:
		return segment
	case 1:
		return matches[0] + " "
	}
	if prefix := longestCommonPrefix(matches); len(prefix) > len(segment) {
		return prefix
	}
	return segment
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
