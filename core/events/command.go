package events

import (
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// CommandEvent is published when a relay command is issued.
type CommandEvent struct {
	CommandID string
	ZoneID    string
	Target    model.RelayState
	Attempt   int
	Time      time.Time
}

// AckEvent is published for each command acknowledgment or failure.
type AckEvent struct {
	CommandID    string
	ZoneID       string
	Target       model.RelayState
	Acknowledged bool
	Err          error
	Latency      time.Duration
}

// CommandFailedEvent is published after the retry budget for a command is
// exhausted. The emergency controller consumes it.
type CommandFailedEvent struct {
	ZoneID string
	Tier   model.Tier
	Target model.RelayState
	Time   time.Time
}
