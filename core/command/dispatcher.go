package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Config tunes the retry and communication-loss behavior.
type Config struct {
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	MaxAttempts       int `json:"max_attempts"`
	BackoffBaseMS     int `json:"backoff_base_ms"`
	CommLossSeconds   int `json:"comm_loss_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.AckTimeoutSeconds == 0 {
		c.AckTimeoutSeconds = 5
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBaseMS == 0 {
		c.BackoffBaseMS = 500
	}
	if c.CommLossSeconds == 0 {
		c.CommLossSeconds = 120
	}
}

// Validate checks the configured budgets.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.BackoffBaseMS < 0 {
		return fmt.Errorf("backoff_base_ms must not be negative")
	}
	return nil
}

// Outcome is the per-zone result of one dispatch round.
type Outcome struct {
	CommandID    string
	Target       model.RelayState
	Acknowledged bool
	Attempts     int
	Err          error
}

// FailureObserver consumes exhausted-retry and communication-loss reports,
// and the acknowledgments that clear them. The emergency controller
// implements it.
type FailureObserver interface {
	ObserveCommandFailure(events.CommandFailedEvent)
	ObserveCommLoss(since time.Duration)
	ObserveRecovery(zoneID, by string)
}

// Dispatcher converts a decision into idempotent per-zone relay commands
// with bounded retry and exponential backoff.
type Dispatcher struct {
	cfg      Config
	client   Client
	registry *registry.Registry
	bus      eventbus.EventBus
	failures FailureObserver
	log      logger.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{} // zone id -> cancel for outstanding retries
	lastAck  time.Time

	now func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config, client Client, reg *registry.Registry, failures FailureObserver, bus eventbus.EventBus, log logger.Logger) (*Dispatcher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	if client == nil || reg == nil || log == nil {
		return nil, fmt.Errorf("command: nil parameter provided to New")
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		registry: reg,
		bus:      bus,
		failures: failures,
		log:      log,
		inflight: make(map[string]chan struct{}),
		now:      time.Now,
		lastAck:  time.Now(),
	}, nil
}

// Dispatch issues commands for every zone whose target differs from its
// current relay state. Commands already satisfied are no-ops, so dispatching
// the same decision twice leaves the registry unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, dec model.Decision) map[string]Outcome {
	grid := d.registry.Snapshot()
	outcomes := make(map[string]Outcome)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	ids := make([]string, 0, len(dec.Targets))
	for id := range dec.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	acked := 0
	total := 0
	for _, id := range ids {
		target := dec.Targets[id]
		z, ok := grid.Zone(id)
		if !ok {
			mu.Lock()
			outcomes[id] = Outcome{Err: fmt.Errorf("%w: %s", registry.ErrUnknownZone, id)}
			mu.Unlock()
			continue
		}
		if z.Relay == target.State {
			continue // idempotent: already in the target state
		}
		if err := d.checkFloor(z, target.State, grid.Battery, dec.Emergency); err != nil {
			d.log.Errorf("command rejected for %s: %v", id, err)
			mu.Lock()
			outcomes[id] = Outcome{Target: target.State, Err: err}
			mu.Unlock()
			continue
		}

		cancel := d.supersede(id)
		total++
		wg.Add(1)
		go func(z model.Zone, target model.RelayState, cancel chan struct{}) {
			defer wg.Done()
			out := d.sendWithRetry(ctx, z, target, cancel)
			mu.Lock()
			outcomes[z.ID] = out
			if out.Acknowledged {
				acked++
			}
			mu.Unlock()
		}(z, target.State, cancel)
	}
	wg.Wait()
	if total > 0 {
		ackRate.Set(float64(acked) / float64(total))
	}
	d.checkCommLoss(outcomes)
	return outcomes
}

// checkFloor rejects commands that would directly violate the Critical-zone
// floor invariant. Emergency decisions are exempt: only the emergency
// controller may relax the floor.
func (d *Dispatcher) checkFloor(z model.Zone, target model.RelayState, battery float64, emergency bool) error {
	if z.Tier == model.TierCritical && target == model.RelayOff &&
		battery >= model.BatteryCriticalThreshold && !emergency {
		return fmt.Errorf("%w: critical zone %s may not be switched off at %.1f%% battery",
			ErrInvariantViolation, z.ID, battery)
	}
	return nil
}

// supersede cancels any outstanding retry loop for the zone and installs a
// fresh cancel channel for the new command.
func (d *Dispatcher) supersede(zoneID string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.inflight[zoneID]; ok {
		close(prev)
	}
	ch := make(chan struct{})
	d.inflight[zoneID] = ch
	return ch
}

func (d *Dispatcher) release(zoneID string, ch chan struct{}) {
	d.mu.Lock()
	if d.inflight[zoneID] == ch {
		delete(d.inflight, zoneID)
	}
	d.mu.Unlock()
}

// sendWithRetry issues the command and retries with exponential backoff
// until acknowledged, superseded, cancelled, or the attempt budget is
// exhausted. On exhaustion the relay state is left unchanged and the
// failure is reported.
func (d *Dispatcher) sendWithRetry(ctx context.Context, z model.Zone, target model.RelayState, cancel chan struct{}) Outcome {
	defer d.release(z.ID, cancel)
	ackTimeout := time.Duration(d.cfg.AckTimeoutSeconds) * time.Second
	backoff := time.Duration(d.cfg.BackoffBaseMS) * time.Millisecond

	out := Outcome{Target: target}
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if attempt > 1 {
			commandRetries.WithLabelValues(z.ID).Inc()
			select {
			case <-time.After(backoff):
			case <-cancel:
				out.Err = fmt.Errorf("superseded")
				return out
			case <-ctx.Done():
				out.Err = ctx.Err()
				return out
			}
			backoff *= 2
		}

		start := d.now()
		cmdID, err := d.client.SendCommand(z.ID, target)
		if err != nil {
			out.Err = err
			d.log.Warnf("send failed for %s (attempt %d/%d): %v", z.ID, attempt, d.cfg.MaxAttempts, err)
			continue
		}
		out.CommandID = cmdID
		commandsIssued.WithLabelValues(z.ID, target.String()).Inc()
		_ = d.registry.SetPending(z.ID, model.PendingCommand{
			ID:       cmdID,
			Target:   target,
			IssuedAt: start,
			Retries:  attempt - 1,
		})
		if d.bus != nil {
			d.bus.Publish(events.CommandEvent{CommandID: cmdID, ZoneID: z.ID, Target: target, Attempt: attempt, Time: start})
		}

		ack, err := d.client.WaitForAck(cmdID, ackTimeout)
		latency := d.now().Sub(start)
		ackLatency.WithLabelValues(z.ID).Observe(latency.Seconds())
		if d.bus != nil {
			d.bus.Publish(events.AckEvent{CommandID: cmdID, ZoneID: z.ID, Target: target, Acknowledged: ack && err == nil, Err: err, Latency: latency})
		}
		if err == nil && ack {
			out.Acknowledged = true
			out.Err = nil
			d.mu.Lock()
			d.lastAck = d.now()
			d.mu.Unlock()
			_ = d.registry.ApplyAck(z.ID, target, d.now())
			if d.failures != nil {
				d.failures.ObserveRecovery(z.ID, "ack")
			}
			return out
		}
		if err != nil {
			out.Err = err
		} else {
			out.Err = ErrAckTimeout
		}
		d.log.Warnf("no ack for %s (attempt %d/%d)", z.ID, attempt, d.cfg.MaxAttempts)
	}

	// Budget exhausted: fail safe, do not assume the relay moved.
	commandFailures.WithLabelValues(z.ID).Inc()
	_ = d.registry.ClearPending(z.ID, out.CommandID)
	out.Err = fmt.Errorf("%w: zone %s target %s after %d attempts", ErrCommandFailed, z.ID, target, out.Attempts)
	ev := events.CommandFailedEvent{ZoneID: z.ID, Tier: z.Tier, Target: target, Time: d.now()}
	if d.bus != nil {
		d.bus.Publish(ev)
	}
	if d.failures != nil {
		d.failures.ObserveCommandFailure(ev)
	}
	return out
}

// checkCommLoss reports sustained communication loss: every command of the
// round unacknowledged and no ack from any zone within the configured
// window.
func (d *Dispatcher) checkCommLoss(outcomes map[string]Outcome) {
	if len(outcomes) == 0 {
		return
	}
	for _, o := range outcomes {
		if o.Acknowledged {
			return
		}
	}
	d.mu.Lock()
	silence := d.now().Sub(d.lastAck)
	d.mu.Unlock()
	if silence >= time.Duration(d.cfg.CommLossSeconds)*time.Second && d.failures != nil {
		d.failures.ObserveCommLoss(silence)
	}
}
