package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Endpoint is the Bot API URL template. Defaults to api.telegram.org.
	Endpoint string
	// Timeout bounds each HTTP request. Defaults to 10s.
	Timeout time.Duration
}

// RetryAfterError is returned when Telegram asks the caller to back off.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("telegram flood control, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Client sends messages through the Telegram Bot API.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient authenticates token against the Bot API.
func NewClient(token string, opts ClientOptions) (*Client, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, opts.Endpoint, &http.Client{Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	return &Client{bot: bot}, nil
}

// SendMessage implements BotAPI. The Bot API client is not context aware, so
// ctx is only checked before the request goes out.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, parseMode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	_, err := c.bot.Send(msg)
	return classify(err)
}

func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return &RetryAfterError{After: time.Duration(apiErr.RetryAfter) * time.Second, Err: err}
	}
	return err
}

var _ BotAPI = (*Client)(nil)
