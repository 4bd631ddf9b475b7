package audit

import (
	"context"
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// Record captures one audited engine event: a committed decision, an
// override verdict, a shed, a command failure or an emergency transition.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	ZoneID    string          `json:"zone_id,omitempty"`
	Decision  *model.Decision `json:"decision,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// Record kinds.
const (
	KindDecision      = "decision"
	KindOverride      = "override"
	KindShed          = "shed"
	KindCommandFailed = "command_failed"
	KindTransition    = "transition"
)

// Query filters stored records.
type Query struct {
	Kind  string
	Since time.Time
	Limit int
}

// Store persists audit records for external consumption.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
