package control

import (
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
)

// TypeCommandExecuted is published for every command addressed to this
// instance.
const TypeCommandExecuted = "command_executed"

// CommandExecutedEvent reports the outcome of a command.
type CommandExecutedEvent struct {
	events.BaseEvent
	InstanceID string `json:"instance_id"`
	Action     Action `json:"action"`
	Payload    string `json:"payload,omitempty"`
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
}

// NewCommandExecutedEvent creates a command event.
func NewCommandExecutedEvent(sheetID, instanceID string, cmd Command, ok bool, message string) CommandExecutedEvent {
	return CommandExecutedEvent{
		BaseEvent:  events.NewBaseEvent(TypeCommandExecuted, sheetID),
		InstanceID: instanceID,
		Action:     cmd.Action,
		Payload:    cmd.Payload,
		OK:         ok,
		Message:    message,
	}
}
