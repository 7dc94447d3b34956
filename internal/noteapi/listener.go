package noteapi

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrEndpointUnavailable means another service instance already owns the
// endpoint. The caller must exit without loading the store: two processes
// each believing they own the canonical state is the one scenario the
// single-instance bind exists to prevent.
var ErrEndpointUnavailable = errors.New("endpoint unavailable: another instance is running")

const socketProbeTimeout = 250 * time.Millisecond

// DefaultSocketPath resolves the well-known endpoint address.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "notes-service.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("notes-service-%d.sock", os.Getuid()))
}

// Listener is a unix-socket listener guarded by an flock'd lock file. The
// lock closes the race between probing a stale socket and rebinding it.
type Listener struct {
	net.Listener
	socketPath string
	lockPath   string
	lockFile   *os.File
}

// Listen binds the well-known endpoint. If the flock is held elsewhere or a
// live process answers on the socket, it fails with ErrEndpointUnavailable.
// A leftover socket file from a crashed instance is removed and rebound.
func Listen(socketPath string) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, err
	}
	lockPath := socketPath + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrEndpointUnavailable
		}
		return nil, err
	}

	if _, err := os.Stat(socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", socketPath, socketProbeTimeout)
		if dialErr == nil {
			_ = conn.Close()
			_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
			_ = lockFile.Close()
			return nil, ErrEndpointUnavailable
		}
		// stale socket from a dead instance
		if err := os.Remove(socketPath); err != nil {
			_ = lockFile.Close()
			return nil, err
		}
	}

	inner, err := net.Listen("unix", socketPath)
	if err != nil {
		_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		_ = lockFile.Close()
		return nil, err
	}
	return &Listener{
		Listener:   inner,
		socketPath: socketPath,
		lockPath:   lockPath,
		lockFile:   lockFile,
	}, nil
}

func (l *Listener) SocketPath() string {
	return l.socketPath
}

func (l *Listener) Close() error {
	err := l.Listener.Close()
	_ = os.Remove(l.socketPath)
	if l.lockFile != nil {
		_ = unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
		_ = l.lockFile.Close()
		_ = os.Remove(l.lockPath)
		l.lockFile = nil
	}
	return err
}
