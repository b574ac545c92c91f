package accounting

import (
	"context"
	"errors"
	"fmt"
	"math"

	gonet "github.com/shirou/gopsutil/v4/net"
)

// BytesPerMB is the decimal megabyte used for quota accounting
const BytesPerMB = 1_000_000

// ErrCountersUnavailable is returned when interface byte counters cannot be read.
var ErrCountersUnavailable = errors.New("accounting: interface counters unavailable")

// System call wrapper for testing
var netIOCounters = gonet.IOCountersWithContext

// Config holds accounting configuration
type Config struct {
	// Interface restricts accounting to a single NIC. Empty sums all interfaces.
	Interface string
}

// Accountant reads cumulative interface counters.
type Accountant struct {
	iface string
}

// New creates a new Accountant
func New(config Config) *Accountant {
	return &Accountant{iface: config.Interface}
}

// Counters is a point-in-time reading of cumulative byte counters
type Counters struct {
	BytesSent uint64
	BytesRecv uint64
}

// ReadCounters returns cumulative bytes sent and received since the OS
// counters were last reset.
func (a *Accountant) ReadCounters(ctx context.Context) (Counters, error) {
	perNIC := a.iface != ""

	stats, err := netIOCounters(ctx, perNIC)
	if err != nil {
		return Counters{}, fmt.Errorf("%w: %v", ErrCountersUnavailable, err)
	}

	for _, stat := range stats {
		if perNIC && stat.Name != a.iface {
			continue
		}
		return Counters{BytesSent: stat.BytesSent, BytesRecv: stat.BytesRecv}, nil
	}

	if perNIC {
		return Counters{}, fmt.Errorf("%w: interface %s not found", ErrCountersUnavailable, a.iface)
	}
	return Counters{}, fmt.Errorf("%w: no counters reported", ErrCountersUnavailable)
}

// CurrentUsageMB returns sent+received traffic in decimal megabytes, rounded
// to the nearest integer with ties to even.
func (a *Accountant) CurrentUsageMB(ctx context.Context) (int64, error) {
	counters, err := a.ReadCounters(ctx)
	if err != nil {
		return 0, err
	}
	return ToMB(counters), nil
}

// ToMB converts counters to decimal megabytes, rounding ties to even.
func ToMB(c Counters) int64 {
	sent := float64(c.BytesSent) / BytesPerMB
	recv := float64(c.BytesRecv) / BytesPerMB
	return int64(math.RoundToEven(sent + recv))
}
