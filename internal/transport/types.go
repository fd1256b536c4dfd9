package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ChatTitle    string
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// Channel is a destination for announcements. ID is the stable identity used
// as the subscription key; Title is informational only.
type Channel struct {
	ID    int64
	Title string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a rendered message to a channel and waits for the platform to accept it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error
}

// ChannelResolver turns a persisted channel id back into a live channel.
type ChannelResolver interface {
	FetchChannel(ctx context.Context, chatID int64) (Channel, error)
}

type Adapter interface {
	Sender
	ChannelResolver

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
