package subscription

import (
	"github.com/cockroachdb/errors"

	"eventbot/internal/storage"
)

var (
	// ErrAlreadySubscribed is returned by Subscribe for a channel that already has a live job.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed is returned by Unsubscribe for a channel with no live job.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrDelivery marks a failed announcement. It never stops the reschedule.
	// Like ErrPersistence it is a mark: match it with cockroachdb errors.Is.
	ErrDelivery = errors.New("delivery failed")
	// ErrPersistence marks registry failures surfaced by Subscribe, Unsubscribe and Restore.
	ErrPersistence = storage.ErrPersistence
)

func markPersistence(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrPersistence)
}
