package main

import (
	"strings"
)

type board interface {
	ToggleActive(id string)
	ToggleCheckout(id string)
	EditNote(id, text string)
	ConfirmSelection()
	BackToSelection()
	Reset()
	Refresh()
}

type editor interface {
	BeginEdit(id string)
	EndEdit()
	Notice(text string)
}

const helpText = `commands:
  a <room>          toggle whether a room is active today (selection)
  confirm           start working the selected rooms
  back              return to selection
  c <room>          toggle checkout (management)
  n <room> <text>   replace the note of a room
  e <room>          edit the note of a room on the next line
  reset             clear every room
  refresh           pull the board now
  quit`

// interpreter turns input lines into board actions. Between "e <room>" and
// the following line it is in note-editing state.
type interpreter struct {
	board   board
	editor  editor
	editing string
}

// handle processes one line and reports whether the user asked to quit.
func (in *interpreter) handle(line string) bool {
	if in.editing != "" {
		id := in.editing
		in.editing = ""
		in.board.EditNote(id, strings.TrimSpace(line))
		in.editor.EndEdit()
		return false
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch {
	case cmd == "quit" || cmd == "q" || cmd == "exit":
		return true
	case cmd == "help" || cmd == "?":
		in.editor.Notice(helpText)
	case cmd == "confirm":
		in.board.ConfirmSelection()
	case cmd == "back":
		in.board.BackToSelection()
	case cmd == "reset":
		in.board.Reset()
	case cmd == "refresh":
		in.board.Refresh()
	case cmd == "a" && len(args) == 1:
		in.board.ToggleActive(args[0])
	case cmd == "c" && len(args) == 1:
		in.board.ToggleCheckout(args[0])
	case cmd == "e" && len(args) == 1:
		in.editing = args[0]
		in.editor.BeginEdit(args[0])
	case cmd == "n" && len(args) >= 1:
		note := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		note = strings.TrimSpace(strings.TrimPrefix(note, args[0]))
		in.board.EditNote(args[0], note)
	default:
		in.editor.Notice("unknown command, try help")
	}
	return false
}
