// Package telegram delivers forecast reports through the Telegram Bot API.
// The console summary is sent as a MarkdownV2 message and each chart follows as
// a photo. Every send is retried with linear backoff.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/models"
	"github.com/rewired-gh/vaxoracle/internal/report"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendReport sends the summary for res, then each chart in charts when it is
// non-nil. A failed chart is logged and skipped; a failed summary is returned.
func (c *Client) SendReport(ctx context.Context, res *forecast.Result, charts *report.ChartSet) error {
	msg := tgbotapi.NewMessage(c.chatID, formatMessage(res))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}

	if charts == nil {
		return nil
	}
	for _, name := range charts.Names() {
		data, _ := charts.Get(name)
		photo := tgbotapi.NewPhoto(c.chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		photo.Caption = chartCaption(name, res)
		if err := c.send(ctx, photo); err != nil {
			logger.Warn("Failed to send chart %s: %v", name, err)
		}
	}
	return nil
}

// SendError reports a failed run.
func (c *Client) SendError(ctx context.Context, runErr error) error {
	text := fmt.Sprintf("⚠️ *Vaccination forecast failed*\n\n%s", escapeMarkdownV2(runErr.Error()))
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return c.send(ctx, msg)
}

// send delivers one message with retry.
func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats a run result into a Telegram message
func formatMessage(res *forecast.Result) string {
	var b strings.Builder

	b.WriteString("💉 *Vaccination forecast*\n\n")
	fmt.Fprintf(&b, "📅 As of: %s\n", escapeMarkdownV2(res.AsOf.Format(models.DateLayout)))
	if res.Revised != nil && !res.Revised.DetailEnd.IsZero() {
		fmt.Fprintf(&b, "🎯 Everyone fully vaccinated by *%s*\n",
			escapeMarkdownV2(res.Revised.DetailEnd.Format(models.DateLayout)))
	}
	b.WriteString("\n```\n")
	b.WriteString(escapeCode(report.Summary(res)))
	b.WriteString("```")

	return b.String()
}

func chartCaption(name string, res *forecast.Result) string {
	asOf := res.AsOf.Format(models.DateLayout)
	switch name {
	case report.PieFile:
		return "Vaccination status as of " + asOf
	case report.ProjectionFile:
		return "Projection: observed (solid), early (dotted), revised (dashed)"
	case report.DailyFile:
		return "Doses administered per day, rolling average"
	default:
		return name
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text inside a pre block, where only ` and \ are special.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
