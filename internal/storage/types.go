package storage

import (
	"fmt"
	"strings"
	"time"
)

// Reason records why a connection epoch began.
type Reason string

const (
	ReasonStartup          Reason = "startup"
	ReasonStartupOverQuota Reason = "startup-over-quota"
	ReasonQuota            Reason = "quota"
)

// ParseReason parses a reason case-insensitively and rejects unknown values.
func ParseReason(s string) (Reason, error) {
	normalized := Reason(strings.ToLower(strings.TrimSpace(s)))

	switch normalized {
	case ReasonStartup, ReasonStartupOverQuota, ReasonQuota:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid epoch reason: %q", s)
	}
}

// EpochRecord is a journal entry for one connection epoch.
type EpochRecord struct {
	ID              int64     `json:"id"`
	Reason          Reason    `json:"reason"`
	BaselineMB      int64     `json:"baseline_mb"`
	QuotaMB         int64     `json:"quota_mb"`
	HostName        string    `json:"host_name"`
	HardwareAddress string    `json:"hardware_address,omitempty"` // Empty for the start-up epoch
	StartedAt       time.Time `json:"started_at"`
}
