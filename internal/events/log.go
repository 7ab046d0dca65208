package events

// TypeLog carries warnings and errors from the runner logger.
const TypeLog = "log"

// LogEvent mirrors one logger record onto the bus.
type LogEvent struct {
	BaseEvent
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func NewLogEvent(sheetID, level, message string, fields map[string]any) LogEvent {
	return LogEvent{BaseEvent: NewBaseEvent(TypeLog, sheetID), Level: level, Message: message, Fields: fields}
}
