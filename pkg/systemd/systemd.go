// Package systemd reports service state to systemd (sd_notify).
// Every call is a no-op when the process is not started by systemd.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/cockroachdb/errors"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd that startup finished (Type=notify units).
func Ready() (bool, error) { return send(daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) { return send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return send("STATUS=" + msg) }

func send(state string) (bool, error) {
	ok, err := notify(false, state)
	if err != nil {
		return false, errors.Wrapf(err, "sd_notify %q", state)
	}
	return ok, nil
}
