package applet

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

var ErrServiceBinNotSet = errors.New("service binary not configured")

type LaunchOptions struct {
	// ServiceBin is the absolute path of the service binary to spawn when
	// no instance answers on the endpoint.
	ServiceBin string
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// EnsureRunning performs the launch handshake: ping the well-known endpoint,
// and if nothing answers, spawn the configured service binary as a detached
// process and retry with bounded backoff until it comes up.
func EnsureRunning(ctx context.Context, client *Client, opts LaunchOptions) error {
	if err := client.Health(ctx); err == nil {
		return nil
	}
	bin := strings.TrimSpace(opts.ServiceBin)
	if bin == "" {
		return ErrServiceBinNotSet
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 10
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}

	if err := spawnDetached(bin, client.SocketPath()); err != nil {
		return fmt.Errorf("failed to launch %s: %w", bin, err)
	}

	delay := opts.BaseDelay
	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := client.Health(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return fmt.Errorf("service did not answer after %d attempts: %w", opts.Attempts, lastErr)
}

// spawnDetached starts the service in its own session with no inherited
// stdio, so it outlives the applet process that launched it.
func spawnDetached(bin, socketPath string) error {
	cmd := exec.Command(bin, "-socket", socketPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
