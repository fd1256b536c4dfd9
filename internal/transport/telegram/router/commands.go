package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "eventbot/internal/runtime/supervisor"
	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

const (
	replyUnknown = "Unknown command. Try /help"
	replyBusy    = "Busy, try again in a moment."
	replyFailed  = "Something went wrong. Please try again later."

	defaultCommandTimeout = 30 * time.Second
)

type Command struct {
	// Name is the command word without the slash, e.g. "next".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	ChatID       int64
	ChatTitle    string
	IsGroup      bool
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	Flags        map[string]string
	BoolFlags    map[string]bool
	ReqID        string

	Sender kit.Sender
	Logger logx.Logger
}

// Channel is the chat the request came from.
func (r *Request) Channel() kit.Channel {
	return kit.Channel{ID: r.ChatID, Title: r.ChatTitle}
}

// Reply sends an HTML message back to the requesting chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Sender.SendText(ctx, r.ChatID, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

type Option func(*CommandManager)

// WithWorkers sets the worker pool size. Default is NumCPU (at least 2).
func WithWorkers(n int) Option {
	return func(m *CommandManager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(m *CommandManager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithSupervisor runs background work (menu updates) under sup so it stops with the app.
func WithSupervisor(sup *rtsup.Supervisor) Option {
	return func(m *CommandManager) { m.appSup = sup }
}

// WithBotUsername makes the router ignore "/cmd@otherbot".
func WithBotUsername(name string) Option {
	return func(m *CommandManager) { m.botName = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	order []*Command

	log       logx.Logger
	sender    kit.Sender
	appSup    *rtsup.Supervisor
	botName   string
	workers   int
	queueSize int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:      map[string]*Command{},
		alias:     map[string]*Command{},
		log:       log,
		sender:    sender,
		workers:   max(2, runtime.NumCPU()),
		queueSize: 256,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setRunning(sup *rtsup.Supervisor, jobs chan func(), running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.jobs = jobs
	m.running = running
	m.runMu.Unlock()
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	jobs := m.jobs
	running := m.running
	m.runMu.Unlock()
	if fn == nil || !running || jobs == nil {
		return false
	}
	select {
	case jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command set. A help command is always injected.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		order = append(order, &cc)
	}
	// aliases never shadow a canonical name
	for _, c := range order {
		for _, a := range c.Aliases {
			a = sanitizeTelegramCommand(a)
			if a == "" {
				continue
			}
			if _, taken := byName[a]; taken {
				continue
			}
			if _, taken := alias[a]; !taken {
				alias[a] = c
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.order = order
	m.mu.Unlock()

	if up, ok := m.sender.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(order)
		run := func(parent context.Context) error {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		}
		if m.appSup != nil {
			m.appSup.Go("telegram.menu.update", run)
		} else {
			go func() { _ = run(context.Background()) }()
		}
	}
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, c := range m.order {
		out = append(out, *c)
	}
	return out
}

func (m *CommandManager) lookup(word string) *Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c
	}
	return m.alias[word]
}

// DispatchLoop reads updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool; a full queue answers "busy".
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.Component("telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan func(), m.queueSize)
	m.setRunning(sup, jobs, true)

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		m.setRunning(nil, nil, false)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeMessage(ctx, up)
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return
	}
	word, mention, rawArgs, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	if mention != "" && m.botName != "" && !strings.EqualFold(mention, m.botName) {
		return
	}

	cmd := m.lookup(word)
	if cmd == nil {
		// stay quiet in groups unless addressed directly
		if !msg.IsGroup || mention != "" {
			m.replyPlain(root, msg.ChatID, replyUnknown)
		}
		return
	}

	args, flags, bools := parseFlags(rawArgs)
	rid := newReqID()
	req := &Request{
		Update:       up,
		ChatID:       msg.ChatID,
		ChatTitle:    msg.ChatTitle,
		IsGroup:      msg.IsGroup,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         args,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Sender:       m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.ChatID(msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(
		cmd.Handle,
		MWRequestLog(m.log),
		MWErrorReply(replyFailed),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.replyPlain(root, msg.ChatID, replyBusy)
	}
}

func (m *CommandManager) replyPlain(ctx context.Context, chatID int64, text string) {
	if m.sender == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.sender.SendText(sctx, chatID, text, nil); err != nil {
		m.log.Debug("reply failed", logx.ChatID(chatID), logx.Err(err))
	}
}
