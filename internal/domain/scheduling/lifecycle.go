package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Action is a status transition requested by a doctor or hospital.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// ParseAction accepts any casing. "reject" is a synonym for cancel.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return ActionApprove, nil
	case "cancel", "reject":
		return ActionCancel, nil
	case "complete":
		return ActionComplete, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// transitions lists the legal moves. Anything absent is rejected.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove: StatusUpcoming,
		ActionCancel:  StatusCancelled,
	},
	StatusUpcoming: {
		ActionCancel:   StatusCancelled,
		ActionComplete: StatusCompleted,
	},
}

// Next returns the status reached by applying action to from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// CanReschedule reports whether the date and time may still change.
func CanReschedule(s Status) bool {
	return s == StatusPending || s == StatusUpcoming
}

// NoteTimeLayout prefixes every note entry.
const NoteTimeLayout = "2006-01-02 15:04"

// AppendNote adds a timestamped entry to notes without touching what is
// already there.
func AppendNote(notes, text string, at time.Time) string {
	entry := fmt.Sprintf("[%s] %s", at.Format(NoteTimeLayout), strings.TrimSpace(text))
	if notes == "" {
		return entry
	}
	return notes + "\n" + entry
}
