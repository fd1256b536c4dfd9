package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "eventbot/internal/transport"
)

const (
	telegramQueueSize   = 256
	telegramSendTimeout = 10 * time.Second
	maxFieldLen         = 600
	maxRawLen           = 3500
)

type telegramLine struct {
	chatID int64
	text   string
}

// telegramSink is a zerolog.LevelWriter that queues log lines for a log chat.
// Writes never block: a full queue drops the line.
type telegramSink struct {
	sender kit.Sender
	queue  chan telegramLine

	chatID  atomic.Int64
	dropped atomic.Uint64

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegramSink(sender kit.Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramLine, telegramQueueSize),
		minLevel: LevelWarn,
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) configure(minLevel zerolog.Level, perSec int) {
	perSec = max(1, perSec)
	t.mu.Lock()
	t.minLevel = minLevel
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	t.mu.Unlock()

	t.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		go t.run(ctx)
	})
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	opts := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, telegramSendTimeout)
			if err := t.sender.SendText(sctx, ln.chatID, ln.text, opts); err != nil {
				t.dropped.Add(1)
			}
			cancel()
		}
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-t.done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(LevelInfo, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	chatID := t.chatID.Load()
	if chatID == 0 {
		return len(p), nil
	}
	t.mu.Lock()
	allowed := level >= t.minLevel && t.limiter != nil && t.limiter.Allow()
	t.mu.Unlock()
	if !allowed {
		return len(p), nil
	}
	text, ok := formatTelegramHTML(p)
	if !ok {
		return len(p), nil
	}
	select {
	case t.queue <- telegramLine{chatID: chatID, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatTelegramHTML renders one JSON log line for the log chat. Lines from
// the Telegram transport itself are skipped: a failing send would otherwise
// be reported through the same failing transport.
func formatTelegramHTML(p []byte) (string, bool) {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "<pre>" + html.EscapeString(truncate(raw, maxRawLen)) + "</pre>", true
	}
	comp, _ := m[KeyComponent].(string)
	if comp == "telegram" || strings.HasPrefix(comp, "telegram.adapter") {
		return "", false
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("<b>" + strings.ToUpper(lvl) + "</b> ")
	}
	if comp != "" {
		b.WriteString("[" + html.EscapeString(comp) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(html.EscapeString(msg))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName, KeyComponent:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n<code>%s</code>=%s", html.EscapeString(k), html.EscapeString(truncate(fmt.Sprint(m[k]), maxFieldLen)))
	}
	return b.String(), true
}

// truncate cuts s to at most maxN bytes without splitting a UTF-8 sequence.
func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	cut := maxN - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
