package liveserver

import (
	"time"

	"funding_arb/internal/core"
)

// Message is one frame pushed to dashboard clients
type Message struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// Frame types. Engine events keep their own type names.
const (
	TypeStateChanged   = string(core.EventStateChanged)
	TypeRatesUpdated   = string(core.EventRatesUpdated)
	TypePositionOpened = string(core.EventPositionOpened)
	TypePositionClosed = string(core.EventPositionClosed)
	TypePartialHedge   = string(core.EventPartialHedge)
	TypeEmergencyStop  = string(core.EventEmergencyStop)
	TypeStatus         = string(core.EventStatus)
)

// replayed lists the frame types a newly connected client receives immediately
var replayed = []string{TypeStatus, TypeStateChanged, TypeRatesUpdated}

// FromEvent converts an engine event to a frame
func FromEvent(ev core.Event) Message {
	return Message{Type: string(ev.Type), Time: ev.Time, Data: ev.Data}
}

// NewMessage stamps a frame with the current time
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Time: time.Now(), Data: data}
}
