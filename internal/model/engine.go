package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EngineState is the engine lifecycle state
type EngineState int

const (
	EngineStopped EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
	EngineEmergencyStop
	EngineError
)

func (s EngineState) String() string {
	switch s {
	case EngineStopped:
		return "stopped"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	case EngineEmergencyStop:
		return "emergency_stop"
	case EngineError:
		return "error"
	}
	return fmt.Sprintf("EngineState(%d)", int(s))
}

func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var engineTransitions = map[EngineState][]EngineState{
	EngineStopped:       {EngineStarting},
	EngineStarting:      {EngineRunning, EngineError, EngineStopping},
	EngineRunning:       {EngineStopping, EngineEmergencyStop},
	EngineStopping:      {EngineStopped},
	EngineEmergencyStop: {EngineStopped},
	EngineError:         {EngineStopped},
}

// CanTransition reports whether s -> to is legal. Any state may move to Error.
func (s EngineState) CanTransition(to EngineState) bool {
	if to == EngineError && s != EngineError {
		return true
	}
	for _, allowed := range engineTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// VenueStatus is the connectivity view of a single connector
type VenueStatus struct {
	Connected        bool      `json:"connected"`
	LastPing         time.Time `json:"last_ping"`
	ConnectionErrors int       `json:"connection_errors"`
}

// EngineStatus is derived on demand and never stored
type EngineStatus struct {
	State             EngineState            `json:"state"`
	StartedAt         time.Time              `json:"started_at"`
	Uptime            time.Duration          `json:"uptime"`
	Cycles            int64                  `json:"cycles"`
	Errors            int64                  `json:"errors"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	DailyPnL          decimal.Decimal        `json:"daily_pnl"`
	DailyPnLFraction  decimal.Decimal        `json:"daily_pnl_fraction"`
	Venues            map[string]VenueStatus `json:"venues"`
	ActivePositions   int                    `json:"active_positions"`
	Positions         []PositionSummary      `json:"positions"`
	Opportunities     int                    `json:"opportunities"`
	OpenedToday       int                    `json:"opened_today"`
	ClosedToday       int                    `json:"closed_today"`
	LastCycleDuration time.Duration          `json:"last_cycle_duration"`
	LastCycleAt       time.Time              `json:"last_cycle_at"`
	EmergencyReason   string                 `json:"emergency_reason,omitempty"`
}

// LiveVenues counts connected venues
func (s EngineStatus) LiveVenues() int {
	n := 0
	for _, v := range s.Venues {
		if v.Connected {
			n++
		}
	}
	return n
}
