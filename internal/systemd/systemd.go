package systemd

import (
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// MetricsListenerName is the FileDescriptorName= of the metrics socket in
// icerotate.socket.
const MetricsListenerName = "metrics"

// MetricsListener returns the socket-activated metrics listener, or nil when
// not running under socket activation.
func MetricsListener() (net.Listener, error) {
	// false = don't unset env vars
	if len(activation.Files(false)) == 0 {
		return nil, nil
	}

	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap[MetricsListenerName]; ok && len(lns) > 0 {
		return lns[0], nil
	}
	return nil, nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// Watchdog pings the systemd watchdog. It satisfies monitor.Notifier.
type Watchdog struct {
	interval time.Duration
	last     time.Time
}

// NewWatchdog returns a Watchdog if WatchdogSec= is configured for the unit,
// otherwise nil.
func NewWatchdog() (*Watchdog, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("failed to query systemd watchdog: %w", err)
	}
	if interval == 0 {
		return nil, nil
	}
	return &Watchdog{interval: interval}, nil
}

// Interval returns the watchdog timeout configured by systemd
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// Notify sends WATCHDOG=1, at most twice per watchdog interval.
func (w *Watchdog) Notify() error {
	now := time.Now()
	if !w.last.IsZero() && now.Sub(w.last) < w.interval/2 {
		return nil
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	w.last = now
	return nil
}
