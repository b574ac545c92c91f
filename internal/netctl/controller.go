package netctl

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/icerotate/internal/metrics"
	"github.com/goodtune/icerotate/internal/platform"
	"github.com/rs/zerolog"
)

// Step identifies one stage of the reconnect sequence
type Step string

const (
	StepForgetNetwork      Step = "forget_network"
	StepSetHostName        Step = "set_host_name"
	StepSetHardwareAddress Step = "set_hardware_address"
	StepJoinNetwork        Step = "join_network"
)

// StepError reports which reconnect step failed. Steps applied before the
// failure are not rolled back.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("reconnect step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IdentitySource produces fresh identity values
type IdentitySource interface {
	NewHostName() string
	NewHardwareAddress() string
}

// UsageSource reports cumulative traffic in MB
type UsageSource interface {
	CurrentUsageMB(ctx context.Context) (int64, error)
}

// Config holds controller configuration
type Config struct {
	Interface string
	SSID      string
}

// Rotation describes the identity applied by a successful reconnect and the
// usage total sampled afterwards.
type Rotation struct {
	Baseline        int64
	HostName        string
	HardwareAddress string
	Duration        time.Duration
}

// Controller performs network re-association with a rotated identity.
type Controller struct {
	platform platform.Platform
	identity IdentitySource
	usage    UsageSource
	iface    string
	ssid     string
	logger   zerolog.Logger
}

// NewController creates a new Controller
func NewController(p platform.Platform, identity IdentitySource, usage UsageSource, config Config, logger zerolog.Logger) *Controller {
	return &Controller{
		platform: p,
		identity: identity,
		usage:    usage,
		iface:    config.Interface,
		ssid:     config.SSID,
		logger: logger.With().
			Str("component", "netctl").
			Str("interface", config.Interface).
			Str("ssid", config.SSID).
			Logger(),
	}
}

// HostName returns the current host name
func (c *Controller) HostName(ctx context.Context) (string, error) {
	return c.platform.GetHostName(ctx)
}

// Reconnect forgets the network, rotates host name and hardware address, and
// rejoins. On success the returned Rotation carries the freshly sampled usage
// total to be used as the new baseline.
func (c *Controller) Reconnect(ctx context.Context) (Rotation, error) {
	start := time.Now()

	hostName := c.identity.NewHostName()
	hwAddr := c.identity.NewHardwareAddress()

	steps := []struct {
		step Step
		run  func() error
	}{
		{StepForgetNetwork, func() error { return c.platform.ForgetNetwork(ctx, c.iface, c.ssid) }},
		{StepSetHostName, func() error { return c.platform.SetHostName(ctx, hostName) }},
		{StepSetHardwareAddress, func() error { return c.platform.SetHardwareAddress(ctx, c.iface, hwAddr) }},
		{StepJoinNetwork, func() error { return c.platform.JoinNetwork(ctx, c.iface, c.ssid) }},
	}

	c.logger.Info().
		Str("host_name", hostName).
		Str("hardware_address", hwAddr).
		Msg("Reconnecting with new identity")

	for _, s := range steps {
		if err := s.run(); err != nil {
			metrics.ReconnectStepFailures.WithLabelValues(string(s.step)).Inc()
			metrics.ReconnectsTotal.WithLabelValues("failure").Inc()

			c.logger.Error().
				Err(err).
				Str("step", string(s.step)).
				Msg("Reconnect step failed")

			return Rotation{}, &StepError{Step: s.step, Err: err}
		}

		c.logger.Debug().Str("step", string(s.step)).Msg("Reconnect step complete")
	}

	baseline, err := c.usage.CurrentUsageMB(ctx)
	if err != nil {
		metrics.ReconnectsTotal.WithLabelValues("failure").Inc()
		return Rotation{}, fmt.Errorf("failed to sample usage after reconnect: %w", err)
	}

	elapsed := time.Since(start)
	metrics.ReconnectsTotal.WithLabelValues("success").Inc()
	metrics.ReconnectDuration.Observe(elapsed.Seconds())

	c.logger.Info().
		Int64("baseline_mb", baseline).
		Dur("duration", elapsed).
		Msg("Reconnected")

	return Rotation{
		Baseline:        baseline,
		HostName:        hostName,
		HardwareAddress: hwAddr,
		Duration:        elapsed,
	}, nil
}

// RestoreIdentity sets the host name back to original. Failures are logged
// and not returned; this runs while the process is exiting.
func (c *Controller) RestoreIdentity(ctx context.Context, original string) {
	c.logger.Info().Str("host_name", original).Msg("Restoring original host name")

	if err := c.platform.SetHostName(ctx, original); err != nil {
		c.logger.Error().
			Err(err).
			Str("host_name", original).
			Msg("Failed to restore original host name")
	}
}
