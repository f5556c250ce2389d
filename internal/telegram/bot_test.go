package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBotAPI records messages. The first len(errs) calls fail with errs in order.
type mockBotAPI struct {
	mu       sync.Mutex
	messages []mockMessage
	err      error
	errs     []error
	calls    int
}

type mockMessage struct {
	chatID    int64
	text      string
	parseMode string
}

func (m *mockBotAPI) SendMessage(_ context.Context, chatID int64, text string, parseMode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, mockMessage{chatID: chatID, text: text, parseMode: parseMode})
	return nil
}

func (m *mockBotAPI) GetMessages() []mockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func TestNewBot(t *testing.T) {
	api := &mockBotAPI{}

	bot := NewBot(12345, Options{API: api})
	assert.True(t, bot.IsEnabled())
	assert.Equal(t, int64(12345), bot.ChatID())
	assert.Equal(t, 20, bot.limiter.Burst())
	assert.Equal(t, 5*time.Minute, bot.dedupWindow)
	assert.Equal(t, 1, bot.maxRetries)

	noAPI := NewBot(12345, Options{})
	assert.False(t, noAPI.IsEnabled())
	assert.NoError(t, noAPI.SendMessage(context.Background(), "hello"))
	assert.NoError(t, noAPI.SendAlert(context.Background(), Alert{ID: "a1"}))
}

func TestBot_SendMessage(t *testing.T) {
	api := &mockBotAPI{}
	bot := NewBot(42, Options{API: api})
	ctx := context.Background()

	require.NoError(t, bot.SendMessage(ctx, "hello"))

	msgs := api.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].chatID)
	assert.Equal(t, "hello", msgs[0].text)
	assert.Equal(t, ParseModeHTML, msgs[0].parseMode)

	api.err = errors.New("network down")
	assert.EqualError(t, bot.SendMessage(ctx, "again"), "network down")
}

func TestBot_RetriesAfterFloodControl(t *testing.T) {
	flood := &RetryAfterError{After: time.Millisecond, Err: errors.New("Too Many Requests")}
	api := &mockBotAPI{errs: []error{flood}}
	bot := NewBot(42, Options{API: api})

	require.NoError(t, bot.SendMessage(context.Background(), "hello"))
	assert.Equal(t, 2, api.calls)
	assert.Len(t, api.GetMessages(), 1)

	api.errs = []error{flood, flood}
	err := bot.SendMessage(context.Background(), "again")
	var retry *RetryAfterError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, time.Millisecond, retry.After)
}

func TestBot_SendAlertDeduplicates(t *testing.T) {
	api := &mockBotAPI{}
	bot := NewBot(42, Options{API: api})
	ctx := context.Background()

	alert := Alert{
		ID:        "a1",
		Severity:  "warning",
		Message:   "Token usage for user-1 reached 90% of the limit.",
		Identity:  "user-1",
		Threshold: 90,
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	require.NoError(t, bot.SendAlert(ctx, alert))
	require.NoError(t, bot.SendAlert(ctx, alert))

	msgs := api.GetMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "WARNING Alert")
	assert.Contains(t, msgs[0].text, "<code>user-1</code>")
	assert.Contains(t, msgs[0].text, "2026-03-04 05:06:07")

	alert.ID = "a2"
	require.NoError(t, bot.SendAlert(ctx, alert))
	assert.Len(t, api.GetMessages(), 2)
}

func TestBot_DedupWindowExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &mockBotAPI{}
	bot := NewBot(42, Options{API: api, DedupWindow: time.Minute})
	bot.now = func() time.Time { return now }
	ctx := context.Background()

	alert := Alert{Identity: "user-1", Threshold: 80}
	require.NoError(t, bot.SendAlert(ctx, alert))
	require.NoError(t, bot.SendAlert(ctx, alert))
	require.NoError(t, bot.SendAlert(ctx, Alert{Identity: "user-1", Threshold: 90}))
	assert.Len(t, api.GetMessages(), 2)

	now = now.Add(time.Minute)
	require.NoError(t, bot.SendAlert(ctx, alert))
	assert.Len(t, api.GetMessages(), 3)
}

func TestBot_SendUsageReport(t *testing.T) {
	api := &mockBotAPI{}
	bot := NewBot(42, Options{API: api})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	err := bot.SendUsageReport(context.Background(), []UsageLine{
		{Identity: "low", TokensUsed: 10, Remaining: 90, PercentUsed: 10},
		{Identity: "high", TokensUsed: 95, Remaining: 5, PercentUsed: 95, ResetAt: at.Add(90 * time.Minute)},
	}, at)
	require.NoError(t, err)

	msgs := api.GetMessages()
	require.Len(t, msgs, 1)
	text := msgs[0].text
	assert.Less(t, strings.Index(text, "high"), strings.Index(text, "low"))
	assert.Contains(t, text, "95 used, 5 left, resets in 1h 30m")
}

func TestBot_Paced(t *testing.T) {
	api := &mockBotAPI{}
	bot := NewBot(42, Options{API: api, MessagesPerMinute: 1})

	require.NoError(t, bot.SendMessage(context.Background(), "one"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bot.SendMessage(ctx, "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram send rate")
	assert.Len(t, api.GetMessages(), 1)
}
