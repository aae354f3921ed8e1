package sim

import (
	"fmt"
	"log"
)

// A LogHook is a hook that is responsible for recording information from the
// VM components as lines of text.
type LogHook interface {
	Hook
}

// LogHookBase provides the common logic for all LogHooks
type LogHookBase struct {
	*log.Logger
}

// EventLogger prints one line for every hook invocation.
type EventLogger struct {
	LogHookBase
}

// NewEventLogger creates an EventLogger that writes to logger.
func NewEventLogger(logger *log.Logger) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger

	return h
}

// Func writes the hook context as "domain pos item".
func (h *EventLogger) Func(ctx HookCtx) {
	item := ctx.Item
	if s, ok := item.(fmt.Stringer); ok {
		item = s.String()
	}

	h.Printf("%s %s %v", ctx.Domain.Name(), ctx.Pos.Name, item)
}
