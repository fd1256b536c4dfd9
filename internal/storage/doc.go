// Package storage persists the set of subscribed channel ids (the channel
// registry) and an append-only audit trail of subscription commands.
//
// Drivers:
//   - "file":   snapshot + JSON Lines journal, no external services
//   - "sqlite": embedded SQLite database (modernc, pure Go)
//   - "redis":  a Redis set, for deployments sharing state across hosts
//   - "memory": process-local, used by tests and the CLI dry runs
package storage
