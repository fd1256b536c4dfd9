package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPersistence marks every backend read/write failure so callers can tell a
// storage outage apart from a domain error. It is attached with errors.Mark:
// test for it with github.com/cockroachdb/errors.Is, the standard library's
// errors.Is does not see marks.
var ErrPersistence = errors.New("persistence failure")

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string // set key; audit uses Key+":audit"
}

// Store is the channel registry plus the audit trail.
//
// Add is an idempotent upsert. Remove of an absent id is a no-op.
// List returns ids in ascending order.
type Store interface {
	List(ctx context.Context) ([]int64, error)
	Add(ctx context.Context, channelID int64) error
	Remove(ctx context.Context, channelID int64) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records one subscription command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
}

func persistErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrPersistence)
}
