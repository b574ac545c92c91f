package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/icerotate/internal/accounting"
	"github.com/goodtune/icerotate/internal/metrics"
	"github.com/goodtune/icerotate/internal/netctl"
	"github.com/goodtune/icerotate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the wait between usage samples
	DefaultPollInterval = 5 * time.Second

	// DefaultReconnectTimeout bounds a single reconnect sequence
	DefaultReconnectTimeout = 2 * time.Minute

	// DefaultRestoreTimeout bounds host name restoration at shutdown
	DefaultRestoreTimeout = 30 * time.Second

	historyTimeout = 5 * time.Second
)

// State is the monitor lifecycle state
type State int

const (
	StateInitializing State = iota
	StateSteady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSteady:
		return "steady"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Accounting reports cumulative traffic in MB
type Accounting interface {
	CurrentUsageMB(ctx context.Context) (int64, error)
}

// Network rotates the connection identity
type Network interface {
	HostName(ctx context.Context) (string, error)
	Reconnect(ctx context.Context) (netctl.Rotation, error)
	RestoreIdentity(ctx context.Context, original string)
}

// Notifier is pinged once per poll cycle (e.g. the systemd watchdog)
type Notifier interface {
	Notify() error
}

// History records the start of each connection epoch
type History interface {
	Record(ctx context.Context, epoch *storage.EpochRecord) error
}

// Epoch is the span between one reconnect and the next, identified by the
// usage baseline captured when it began.
type Epoch struct {
	Baseline  int64
	StartedAt time.Time
	Reason    storage.Reason
}

// Config holds monitor configuration
type Config struct {
	QuotaMB          int64
	PollInterval     time.Duration
	ReconnectTimeout time.Duration
	RestoreTimeout   time.Duration
	Clock            Clock
	Notifier         Notifier // Optional
	History          History  // Optional
}

// Monitor tracks usage since the last reconnect and forces a reconnect with
// a fresh identity when the quota is reached.
type Monitor struct {
	accounting       Accounting
	network          Network
	notifier         Notifier
	history          History
	clock            Clock
	quota            int64
	pollInterval     time.Duration
	reconnectTimeout time.Duration
	restoreTimeout   time.Duration
	logger           zerolog.Logger

	state    State
	original string
	epoch    Epoch
	pending  bool // a reconnect failed and must be retried
}

// New creates a new Monitor
func New(acct Accounting, network Network, config Config, logger zerolog.Logger) (*Monitor, error) {
	if config.QuotaMB <= 0 {
		return nil, fmt.Errorf("quota must be positive: %d", config.QuotaMB)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ReconnectTimeout <= 0 {
		config.ReconnectTimeout = DefaultReconnectTimeout
	}
	if config.RestoreTimeout <= 0 {
		config.RestoreTimeout = DefaultRestoreTimeout
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	metrics.QuotaMegabytes.Set(float64(config.QuotaMB))

	return &Monitor{
		accounting:       acct,
		network:          network,
		notifier:         config.Notifier,
		history:          config.History,
		clock:            config.Clock,
		quota:            config.QuotaMB,
		pollInterval:     config.PollInterval,
		reconnectTimeout: config.ReconnectTimeout,
		restoreTimeout:   config.RestoreTimeout,
		logger:           logger.With().Str("component", "monitor").Logger(),
		state:            StateInitializing,
	}, nil
}

// State returns the lifecycle state
func (m *Monitor) State() State {
	return m.state
}

// Epoch returns the current connection epoch
func (m *Monitor) Epoch() Epoch {
	return m.epoch
}

// OriginalHostName returns the host name captured at start-up
func (m *Monitor) OriginalHostName() string {
	return m.original
}

// Run initializes the baseline and polls until ctx is cancelled. The original
// host name is restored on every exit path once it has been captured. A nil
// return means the loop stopped because ctx was cancelled; any error is fatal.
func (m *Monitor) Run(ctx context.Context) error {
	m.state = StateInitializing

	original, err := m.network.HostName(ctx)
	if err != nil {
		return fmt.Errorf("failed to read original host name: %w", err)
	}
	m.original = original

	m.logger.Info().
		Str("host_name", original).
		Int64("quota_mb", m.quota).
		Dur("poll_interval", m.pollInterval).
		Msg("Starting usage monitor")

	defer m.shutdown(ctx)

	if err := m.initialize(ctx); err != nil {
		return err
	}

	m.state = StateSteady
	return m.poll(ctx)
}

// initialize captures the first baseline and corrects an already exceeded
// quota with one reconnect.
func (m *Monitor) initialize(ctx context.Context) error {
	baseline, err := m.accounting.CurrentUsageMB(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial usage: %w", err)
	}

	m.beginEpoch(ctx, baseline, storage.ReasonStartup, netctl.Rotation{HostName: m.original})

	if baseline < m.quota {
		return nil
	}

	m.logger.Info().
		Int64("usage_mb", baseline).
		Int64("quota_mb", m.quota).
		Msg("Initial usage already at quota, reconnecting before monitoring")

	return m.reconnect(ctx, storage.ReasonStartupOverQuota)
}

// poll is the steady state loop
func (m *Monitor) poll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		usage, err := m.accounting.CurrentUsageMB(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read usage: %w", err)
		}

		if usage < m.epoch.Baseline {
			// Counters went backwards (interface reset); restart the epoch
			m.logger.Warn().
				Int64("usage_mb", usage).
				Int64("baseline_mb", m.epoch.Baseline).
				Msg("Usage counters decreased, resetting baseline")
			m.beginEpoch(ctx, usage, m.epoch.Reason, netctl.Rotation{})
		}

		delta := usage - m.epoch.Baseline

		metrics.PollsTotal.Inc()
		metrics.UsageMegabytes.Set(float64(delta))

		m.logger.Info().
			Int64("used_mb", delta).
			Int64("quota_mb", m.quota).
			Msgf("Checking traffic usage, %d/%d MB traffic used", delta, m.quota)

		m.notify()

		if delta >= m.quota || m.pending {
			if delta >= m.quota {
				m.logger.Info().Msg("Traffic quota reached, reconnecting")
			} else {
				m.logger.Info().Msg("Retrying failed reconnect")
			}

			if err := m.reconnect(ctx, storage.ReasonQuota); err != nil {
				return err
			}
			if !m.pending {
				// New epoch; sample again without waiting
				continue
			}
		}

		if !m.wait(ctx) {
			return nil
		}
	}
}

// reconnect rotates the identity. Step failures are logged and leave the
// baseline untouched with a retry pending; only accounting failures are
// returned.
func (m *Monitor) reconnect(ctx context.Context, reason storage.Reason) error {
	// Let an in-flight sequence finish so shutdown never interleaves with it
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.reconnectTimeout)
	defer cancel()

	rotation, err := m.network.Reconnect(rctx)
	if err != nil {
		if errors.Is(err, accounting.ErrCountersUnavailable) {
			return fmt.Errorf("failed to read usage after reconnect: %w", err)
		}

		m.pending = true

		event := m.logger.Error().Err(err)
		var stepErr *netctl.StepError
		if errors.As(err, &stepErr) {
			event = event.Str("step", string(stepErr.Step))
		}
		event.
			Int64("baseline_mb", m.epoch.Baseline).
			Dur("retry_in", m.pollInterval).
			Msg("Reconnect failed, will retry on next poll")
		return nil
	}

	m.pending = false
	m.beginEpoch(ctx, rotation.Baseline, reason, rotation)
	return nil
}

// beginEpoch replaces the current epoch
func (m *Monitor) beginEpoch(ctx context.Context, baseline int64, reason storage.Reason, rotation netctl.Rotation) {
	m.epoch = Epoch{
		Baseline:  baseline,
		StartedAt: m.clock.Now(),
		Reason:    reason,
	}

	metrics.BaselineMegabytes.Set(float64(baseline))
	metrics.EpochStartTimestamp.Set(float64(m.epoch.StartedAt.Unix()))
	metrics.UsageMegabytes.Set(0)

	m.logger.Info().
		Int64("baseline_mb", baseline).
		Str("reason", string(reason)).
		Msg("Connection epoch started")

	if m.history == nil || rotation.HostName == "" {
		return
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	record := &storage.EpochRecord{
		Reason:          reason,
		BaselineMB:      baseline,
		QuotaMB:         m.quota,
		HostName:        rotation.HostName,
		HardwareAddress: rotation.HardwareAddress,
		StartedAt:       m.epoch.StartedAt,
	}
	if err := m.history.Record(hctx, record); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record epoch history")
	}
}

// wait sleeps for the poll interval. It returns false if ctx was cancelled.
func (m *Monitor) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(m.pollInterval):
		return true
	}
}

func (m *Monitor) notify() {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(); err != nil {
		m.logger.Debug().Err(err).Msg("Notifier failed")
	}
}

// shutdown restores the original host name. It runs exactly once per Run.
func (m *Monitor) shutdown(ctx context.Context) {
	m.state = StateShuttingDown

	m.logger.Info().Msg("Exiting, restoring original host name")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.restoreTimeout)
	defer cancel()

	m.network.RestoreIdentity(sctx, m.original)
}
