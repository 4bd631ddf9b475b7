package command

import (
	"errors"
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// ErrAckTimeout is returned when no acknowledgment arrives before the timeout.
var ErrAckTimeout = errors.New("timeout waiting for ack")

// ErrInvariantViolation marks a command rejected before transmission because
// it would relax a Critical-zone floor invariant.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrCommandFailed marks a command whose retry budget was exhausted.
var ErrCommandFailed = errors.New("command failed")

// Client is the channel to the field actuators. Command delivery is
// idempotent on the receiving side: redundant delivery of the same target
// state is a no-op.
type Client interface {
	// SendCommand transmits a relay command for the zone and returns the
	// command identifier used to track the acknowledgment.
	SendCommand(zoneID string, target model.RelayState) (commandID string, err error)

	// WaitForAck blocks until the command is acknowledged or the timeout
	// expires.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)
}
