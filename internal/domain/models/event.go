package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an engine lifecycle event.
type EventType string

const (
	EventStrategyCreated    EventType = "strategy.created"
	EventStrategyConfigured EventType = "strategy.configured"
	EventStrategyRemoved    EventType = "strategy.removed"
	EventStrategyDeleted    EventType = "strategy.deleted"
	EventEnsembleCreated    EventType = "ensemble.created"
	EventEnsembleDeleted    EventType = "ensemble.deleted"
	EventMemberAdded        EventType = "ensemble.member_added"
	EventMemberRemoved      EventType = "ensemble.member_removed"
	EventParamsUpdated      EventType = "ensemble.params_updated"
	EventWeightsOptimized   EventType = "ensemble.weights_optimized"
	EventBacktestCompleted  EventType = "backtest.completed"
	EventViewChanged        EventType = "view.changed"
)

// Event is published to the event stream after a successful operation.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	StrategyID string      `json:"strategy_id,omitempty"`
	EnsembleID string      `json:"ensemble_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	At         time.Time   `json:"at"`
}

// NewEvent stamps a new event with a random id and the current time.
func NewEvent(t EventType, strategyID, ensembleID string, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		StrategyID: strategyID,
		EnsembleID: ensembleID,
		Payload:    payload,
		At:         time.Now().UTC(),
	}
}
