package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ParseModeHTML is the Telegram parse mode used for every outgoing message.
const ParseModeHTML = "HTML"

// BotAPI sends one message to one chat.
type BotAPI interface {
	SendMessage(ctx context.Context, chatID int64, text string, parseMode string) error
}

// Alert is a quota notification as rendered for Telegram.
type Alert struct {
	ID        string
	Severity  string
	Message   string
	Identity  string
	Threshold float64
	Timestamp time.Time
}

func (a Alert) dedupKey() string {
	if a.ID != "" {
		return "id:" + a.ID
	}
	return fmt.Sprintf("%s:%g", a.Identity, a.Threshold)
}

// UsageLine is one identity row of a usage report.
type UsageLine struct {
	Identity    string
	TokensUsed  int64
	Remaining   int64
	PercentUsed float64
	ResetAt     time.Time
}

// Options configures NewBot.
type Options struct {
	API BotAPI
	// MessagesPerMinute paces outgoing messages. Default 20.
	MessagesPerMinute int
	// DedupWindow suppresses repeated alerts. Default 5m.
	DedupWindow time.Duration
	// MaxRetries bounds resends after a flood-control reply. Default 1.
	MaxRetries int
}

// Bot delivers formatted quota notifications to a single chat.
type Bot struct {
	chatID     int64
	api        BotAPI
	limiter    *rate.Limiter
	maxRetries int

	mu          sync.Mutex
	sent        map[string]time.Time
	dedupWindow time.Duration
	now         func() time.Time
}

// NewBot returns a bot for chatID. A bot without an API discards messages.
func NewBot(chatID int64, opts Options) *Bot {
	if opts.MessagesPerMinute <= 0 {
		opts.MessagesPerMinute = 20
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	return &Bot{
		chatID:      chatID,
		api:         opts.API,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MessagesPerMinute)), opts.MessagesPerMinute),
		maxRetries:  opts.MaxRetries,
		sent:        make(map[string]time.Time),
		dedupWindow: opts.DedupWindow,
		now:         time.Now,
	}
}

// IsEnabled reports whether messages are actually sent.
func (b *Bot) IsEnabled() bool {
	return b.api != nil
}

// ChatID returns the destination chat.
func (b *Bot) ChatID() int64 {
	return b.chatID
}

// SendMessage waits for the pacing limiter and sends text. Flood-control
// replies are retried after the delay Telegram asks for.
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	if b.api == nil {
		return nil
	}
	for attempt := 0; ; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram send rate: %w", err)
		}
		err := b.api.SendMessage(ctx, b.chatID, text, ParseModeHTML)
		var retry *RetryAfterError
		if err == nil || !errors.As(err, &retry) || attempt >= b.maxRetries {
			return err
		}
		timer := time.NewTimer(retry.After)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// SendAlert sends alert unless the same alert went out within the dedup window.
func (b *Bot) SendAlert(ctx context.Context, alert Alert) error {
	if b.api == nil || !b.firstSend(alert.dedupKey()) {
		return nil
	}
	return b.SendMessage(ctx, alertText(alert))
}

// SendUsageReport sends a usage summary for the given identities.
func (b *Bot) SendUsageReport(ctx context.Context, lines []UsageLine, at time.Time) error {
	return b.SendMessage(ctx, usageReportText(lines, at))
}

// firstSend records key and reports whether it was not seen within the window.
func (b *Bot) firstSend(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, at := range b.sent {
		if now.Sub(at) >= b.dedupWindow {
			delete(b.sent, k)
		}
	}
	if _, seen := b.sent[key]; seen {
		return false
	}
	b.sent[key] = now
	return true
}
