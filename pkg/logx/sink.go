package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	sinkQueueSize   = 256
	sinkSendTimeout = 10 * time.Second
	maxSinkMessage  = 3500
	maxSinkValue    = 600
)

// TextSender delivers operator log lines to a chat (Telegram).
type TextSender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// SinkStats counts what happened to records routed to the operator chat.
type SinkStats struct {
	Sent        uint64 `json:"sent"`
	Failed      uint64 `json:"failed"`
	RateLimited uint64 `json:"rate_limited"`
	QueueFull   uint64 `json:"queue_full"`
}

type sinkItem struct {
	chatID   int64
	threadID int
	text     string
}

// operatorSink is a zerolog.LevelWriter that forwards records at or above
// minLevel to a TextSender from one background worker. Writing never blocks
// the caller: records over the rate limit or past a full queue are counted
// and dropped.
type operatorSink struct {
	sender TextSender
	queue  chan sinkItem

	mu       sync.RWMutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sent, failed, limited, full atomic.Uint64
}

func newOperatorSink(sender TextSender) *operatorSink {
	return &operatorSink{sender: sender, queue: make(chan sinkItem, sinkQueueSize)}
}

// configure applies cfg and reports whether the sink should be attached.
func (o *operatorSink) configure(cfg TelegramConfig) bool {
	rps := max(1, cfg.RatePerSec)
	o.mu.Lock()
	o.chatID = cfg.ChatID
	o.threadID = cfg.ThreadID
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.mu.Unlock()

	if !cfg.Enabled {
		return false
	}
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without logging.telegram.chat_id")
	}
	o.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.mu.Lock()
		o.cancel = cancel
		o.mu.Unlock()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.run(ctx)
		}()
	})
	return true
}

func (o *operatorSink) close() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
		o.wg.Wait()
	}
}

func (o *operatorSink) stats() SinkStats {
	return SinkStats{
		Sent:        o.sent.Load(),
		Failed:      o.failed.Load(),
		RateLimited: o.limited.Load(),
		QueueFull:   o.full.Load(),
	}
}

func (o *operatorSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-o.queue:
			if o.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, sinkSendTimeout)
			if err := o.sender.SendText(sctx, it.chatID, it.threadID, it.text); err != nil {
				o.failed.Add(1)
			} else {
				o.sent.Add(1)
			}
			cancel()
		}
	}
}

func (o *operatorSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *operatorSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.RLock()
	chatID, threadID, minLvl, lim := o.chatID, o.threadID, o.minLevel, o.limiter
	o.mu.RUnlock()

	if chatID == 0 || o.sender == nil || lim == nil || level < minLvl {
		return len(p), nil
	}
	if !lim.Allow() {
		o.limited.Add(1)
		return len(p), nil
	}
	text := formatOperatorText(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case o.queue <- sinkItem{chatID: chatID, threadID: threadID, text: text}:
	default:
		o.full.Add(1)
	}
	return len(p), nil
}

// formatOperatorText renders one JSON record as "[LEVEL] message" followed
// by one "- key=value" line per field in key order.
func formatOperatorText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, maxSinkMessage)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), maxSinkValue))
	}
	return truncate(b.String(), maxSinkMessage)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
