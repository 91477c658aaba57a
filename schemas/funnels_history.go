package schemas

import (
	"time"
)

const (
	EventStepShown     = "step"
	EventSkipAvailable = "skip-available"
	EventPersisted     = "persisted"
)

// StepEvent is the notification emitted when a funnel session enters a step
// or finishes a persistence checkpoint.
type StepEvent struct {
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Step      Step           `json:"step"`
	Lead      Lead           `json:"lead"`
	Persist   *PersistResult `json:"persist,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
