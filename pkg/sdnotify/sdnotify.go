// Package sdnotify wraps the systemd readiness protocol. Outside of a
// systemd unit (no NOTIFY_SOCKET) every call is a silent no-op, so the daemon
// runs unchanged in a terminal or a container.
package sdnotify

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready signals that startup finished and the service is accepting work.
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping signals that shutdown has begun.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status publishes a free-form status line visible in systemctl status.
func Status(text string) (bool, error) {
	return daemon.SdNotify(false, fmt.Sprintf("STATUS=%s", text))
}
