package platform

import (
	"context"
	"fmt"
	"strings"
)

// Darwin drives macOS through scutil, ifconfig and networksetup.
type Darwin struct {
	runner Runner
}

// GetHostName returns the persistent HostName from the system configuration.
func (d *Darwin) GetHostName(ctx context.Context) (string, error) {
	name, err := d.runner.Run(ctx, "scutil", "--get", "HostName")
	if err != nil {
		return "", fmt.Errorf("failed to read host name: %w", err)
	}
	return name, nil
}

func (d *Darwin) SetHostName(ctx context.Context, name string) error {
	if _, err := d.runner.Run(ctx, "scutil", "--set", "HostName", name); err != nil {
		return fmt.Errorf("failed to set host name: %w", err)
	}
	return nil
}

// ForgetNetwork removes ssid from the interface's preferred network list.
func (d *Darwin) ForgetNetwork(ctx context.Context, iface, ssid string) error {
	if _, err := d.runner.Run(ctx, "networksetup", "-removepreferredwirelessnetwork", iface, ssid); err != nil {
		return fmt.Errorf("failed to forget network %s: %w", ssid, err)
	}
	return nil
}

// JoinNetwork associates the interface with ssid. networksetup exits zero on
// some association failures and reports them on stdout instead.
func (d *Darwin) JoinNetwork(ctx context.Context, iface, ssid string) error {
	out, err := d.runner.Run(ctx, "networksetup", "-setairportnetwork", iface, ssid)
	if err != nil {
		return fmt.Errorf("failed to join network %s: %w", ssid, err)
	}
	if strings.Contains(out, "Could not find network") || strings.Contains(out, "Failed to join network") {
		return fmt.Errorf("failed to join network %s: %s", ssid, out)
	}
	return nil
}

func (d *Darwin) SetHardwareAddress(ctx context.Context, iface, addr string) error {
	if _, err := d.runner.Run(ctx, "ifconfig", iface, "ether", addr); err != nil {
		return fmt.Errorf("failed to set hardware address on %s: %w", iface, err)
	}
	return nil
}
