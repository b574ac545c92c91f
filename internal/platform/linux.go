package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// nmcliNotFound is nmcli's exit status when the connection, device or access
// point does not exist.
const nmcliNotFound = 10

// Linux drives NetworkManager hosts through hostnamectl, ip and nmcli.
type Linux struct {
	runner Runner
}

func (l *Linux) GetHostName(ctx context.Context) (string, error) {
	name, err := l.runner.Run(ctx, "hostnamectl", "hostname", "--static")
	if err != nil {
		return "", fmt.Errorf("failed to read host name: %w", err)
	}
	return name, nil
}

func (l *Linux) SetHostName(ctx context.Context, name string) error {
	if _, err := l.runner.Run(ctx, "hostnamectl", "set-hostname", "--static", name); err != nil {
		return fmt.Errorf("failed to set host name: %w", err)
	}
	return nil
}

// ForgetNetwork deletes the NetworkManager connection profile named ssid. A
// profile that is already gone counts as forgotten: nmcli drops the profile
// itself when a connect attempt fails.
func (l *Linux) ForgetNetwork(ctx context.Context, iface, ssid string) error {
	if _, err := l.runner.Run(ctx, "nmcli", "connection", "delete", "id", ssid); err != nil {
		if isUnknownConnection(err) {
			return nil
		}
		return fmt.Errorf("failed to forget network %s: %w", ssid, err)
	}
	return nil
}

func isUnknownConnection(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == nmcliNotFound {
		return true
	}
	return strings.Contains(err.Error(), "unknown connection")
}

func (l *Linux) JoinNetwork(ctx context.Context, iface, ssid string) error {
	if _, err := l.runner.Run(ctx, "nmcli", "device", "wifi", "connect", ssid, "ifname", iface); err != nil {
		return fmt.Errorf("failed to join network %s: %w", ssid, err)
	}
	return nil
}

// SetHardwareAddress requires the link to be down while the address changes.
func (l *Linux) SetHardwareAddress(ctx context.Context, iface, addr string) error {
	steps := [][]string{
		{"link", "set", "dev", iface, "down"},
		{"link", "set", "dev", iface, "address", addr},
		{"link", "set", "dev", iface, "up"},
	}
	for _, args := range steps {
		if _, err := l.runner.Run(ctx, "ip", args...); err != nil {
			return fmt.Errorf("failed to set hardware address on %s: %w", iface, err)
		}
	}
	return nil
}
