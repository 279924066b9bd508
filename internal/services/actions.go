package services

import (
	"fmt"
	"strconv"
	"strings"
)

type ActionKind string

const (
	ActionVerify   ActionKind = "verify"
	ActionTask     ActionKind = "task"
	ActionProgress ActionKind = "progress"
	ActionReset    ActionKind = "reset"
)

// ActionRef points back into the inbound action set. It travels as
// Telegram callback data.
type ActionRef struct {
	Kind     ActionKind
	Position int
}

func (r ActionRef) IsZero() bool {
	return r.Kind == ""
}

func (r ActionRef) CallbackData() string {
	switch r.Kind {
	case ActionVerify, ActionTask:
		return fmt.Sprintf("%s:%d", r.Kind, r.Position)
	default:
		return string(r.Kind)
	}
}

// ParseActionRef decodes callback data. Buttons rendered by earlier
// deployments used "verify_N", "prev_N" and "task_N"; those are still accepted.
func ParseActionRef(data string) (ActionRef, bool) {
	switch data {
	case string(ActionProgress):
		return ActionRef{Kind: ActionProgress}, true
	case string(ActionReset):
		return ActionRef{Kind: ActionReset}, true
	}

	sep := ":"
	if !strings.Contains(data, sep) {
		sep = "_"
	}
	kind, rawPos, ok := strings.Cut(data, sep)
	if !ok {
		return ActionRef{}, false
	}
	position, err := strconv.Atoi(rawPos)
	if err != nil {
		return ActionRef{}, false
	}

	switch kind {
	case string(ActionVerify):
		return ActionRef{Kind: ActionVerify, Position: position}, true
	case string(ActionTask):
		return ActionRef{Kind: ActionTask, Position: position}, true
	case "prev":
		if sep != "_" {
			return ActionRef{}, false
		}
		return ActionRef{Kind: ActionTask, Position: position - 1}, true
	}
	return ActionRef{}, false
}

// Action is one button of a view: either an external link or an ActionRef.
type Action struct {
	Label string
	URL   string
	Ref   ActionRef
}

func (a Action) IsLink() bool {
	return a.URL != ""
}

// View is what the transport renders: HTML text plus ordered buttons.
type View struct {
	Text    string
	Actions []Action
}
