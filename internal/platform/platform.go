// Package platform provides the operating system primitives used to rotate a
// host's network identity: host name, hardware address and wireless network
// association.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var (
	// ErrUnsupportedPlatform is returned when no primitives exist for the running OS.
	ErrUnsupportedPlatform = errors.New("platform: unsupported operating system")

	// ErrNotPrivileged is returned when the process is not running as root.
	ErrNotPrivileged = errors.New("platform: root privileges required")
)

// System call wrappers for testing
var (
	goos    = runtime.GOOS
	geteuid = unix.Geteuid
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger zerolog.Logger
}

// Run executes name with args. Output is trimmed of surrounding whitespace.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("Running command")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Platform implements host identity and network association primitives.
type Platform interface {
	GetHostName(ctx context.Context) (string, error)
	SetHostName(ctx context.Context, name string) error
	ForgetNetwork(ctx context.Context, iface, ssid string) error
	JoinNetwork(ctx context.Context, iface, ssid string) error
	SetHardwareAddress(ctx context.Context, iface, addr string) error
}

// Detect returns the primitives for the running operating system.
func Detect(runner Runner) (Platform, error) {
	return ForOS(goos, runner)
}

// ForOS returns the primitives for the named operating system.
func ForOS(name string, runner Runner) (Platform, error) {
	switch name {
	case "darwin":
		return &Darwin{runner: runner}, nil
	case "linux":
		return &Linux{runner: runner}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, name)
	}
}

// Preflight verifies the process can manage the network interface: the OS
// must be supported and the effective user must be root.
func Preflight() error {
	if _, err := ForOS(goos, nil); err != nil {
		return err
	}
	if geteuid() != 0 {
		return ErrNotPrivileged
	}
	return nil
}
