// Package logx configures eventbot's structured logging.
//
// Logger is a small value type over zerolog. A Service fans lines out to the
// console, an optional JSON file and an optional Telegram log chat (HTML,
// min-level filtered, rate limited), and can swap those outputs at runtime
// when the config is reloaded.
package logx
