package engine

import "fmt"

// Config defines planning parameters for the decision engine.
type Config struct {
	// SlotMinutes is the discretization granularity of the deferrable
	// scheduling horizon.
	SlotMinutes int `json:"slot_minutes"`
	// HorizonHours is the length of the scheduling horizon.
	HorizonHours int `json:"horizon_hours"`
	// ReserveFloorHours is the battery-hours level the DP pass must keep
	// through every slot.
	ReserveFloorHours float64 `json:"reserve_floor_hours"`
	// ReserveBucketHours is the reserve discretization step of the DP table.
	ReserveBucketHours float64 `json:"reserve_bucket_hours"`
	// MaxDeferrableJobs bounds the DP job dimension. Lowest-weight jobs
	// beyond the bound are left unscheduled.
	MaxDeferrableJobs int `json:"max_deferrable_jobs"`
}

// SetDefaults applies sane defaults: 30-minute slots over 24 hours, a 4 hour
// reserve floor bucketed in half hours.
func (c *Config) SetDefaults() {
	if c.SlotMinutes == 0 {
		c.SlotMinutes = 30
	}
	if c.HorizonHours == 0 {
		c.HorizonHours = 24
	}
	if c.ReserveFloorHours == 0 {
		c.ReserveFloorHours = 4
	}
	if c.ReserveBucketHours == 0 {
		c.ReserveBucketHours = 0.5
	}
	if c.MaxDeferrableJobs == 0 {
		c.MaxDeferrableJobs = 12
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.SlotMinutes <= 0 {
		return fmt.Errorf("slot_minutes must be positive")
	}
	if c.HorizonHours <= 0 {
		return fmt.Errorf("horizon_hours must be positive")
	}
	if c.SlotMinutes > c.HorizonHours*60 {
		return fmt.Errorf("slot duration exceeds horizon")
	}
	if c.ReserveBucketHours <= 0 {
		return fmt.Errorf("reserve_bucket_hours must be positive")
	}
	if c.ReserveFloorHours < 0 {
		return fmt.Errorf("reserve_floor_hours must not be negative")
	}
	return nil
}

// Slots returns the number of slots in the horizon.
func (c Config) Slots() int { return c.HorizonHours * 60 / c.SlotMinutes }
