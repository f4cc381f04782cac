package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"autobuy/internal/domain/entity"
	"autobuy/pkg/logx"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type TelegramBot struct {
	bot    messageSender
	chatID int64
}

func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return NewTelegramBotWithSender(bot, chatID), nil
}

func NewTelegramBotWithSender(sender messageSender, chatID int64) *TelegramBot {
	return &TelegramBot{
		bot:    sender,
		chatID: chatID,
	}
}

// Run отправляет события из канала, пока он не закрыт.
func (b *TelegramBot) Run(ctx context.Context, events <-chan entity.OutcomeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.SendEvent(ctx, event); err != nil {
				logger(ctx).Error("failed to send event", logx.Error(err))
			}
		}
	}
}

func (b *TelegramBot) SendEvent(ctx context.Context, event entity.OutcomeEvent) error {
	msg := tu.Message(
		tu.ID(b.chatID),
		Render(event),
	).WithParseMode(telego.ModeHTML)

	if event.Urgency != entity.UrgencyHigh {
		msg = msg.WithDisableNotification()
	}

	_, err := b.bot.SendMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// SendText отправляет простое текстовое сообщение.
func (b *TelegramBot) SendText(ctx context.Context, text string) error {
	msg := tu.Message(tu.ID(b.chatID), text)

	_, err := b.bot.SendMessage(ctx, msg)
	return err
}

// Render formats an event as a Telegram HTML message.
func Render(event entity.OutcomeEvent) string {
	var sb strings.Builder

	switch event.Type {
	case entity.EventPurchaseSucceeded:
		sb.WriteString("✅ <b>Tickets purchased</b>\n\n")
	case entity.EventRetryScheduled:
		sb.WriteString("⏳ <b>Purchase failed, retry scheduled</b>\n\n")
	case entity.EventNotAttempted:
		sb.WriteString("⛔ <b>Purchase not attempted</b>\n\n")
	default:
		sb.WriteString("❌ <b>Purchase failed</b>\n\n")
	}

	fmt.Fprintf(&sb, "🧾 <b>Configuration:</b> %s\n", html.EscapeString(event.ConfigurationID))

	if event.Source != "" {
		fmt.Fprintf(&sb, "🏷 <b>Source:</b> %s\n", html.EscapeString(event.Source))
	}
	if event.Quantity > 0 {
		fmt.Fprintf(&sb, "🎟 <b>Quantity:</b> %d\n", event.Quantity)
	}
	if event.Type == entity.EventPurchaseSucceeded {
		fmt.Fprintf(&sb, "💰 <b>Total:</b> %s\n", event.TotalPaid.StringFixed(2))
	}
	if event.TransactionID != "" {
		fmt.Fprintf(&sb, "🔗 <b>Transaction:</b> <code>%s</code>\n", html.EscapeString(event.TransactionID))
	}
	if event.Kind != "" {
		fmt.Fprintf(&sb, "🧭 <b>Path:</b> %s\n", html.EscapeString(string(event.Kind)))
	}
	if event.RetryAt != nil {
		fmt.Fprintf(&sb, "🕑 <b>Retry at:</b> %s\n", event.RetryAt.UTC().Format(time.DateTime))
	}

	fmt.Fprintf(&sb, "⏱ <b>Elapsed:</b> %s\n", event.Elapsed.Round(time.Millisecond))

	if len(event.Reasons) > 0 {
		sb.WriteString("\n<b>Reasons:</b>\n")
		for _, r := range event.Reasons {
			fmt.Fprintf(&sb, "• %s\n", html.EscapeString(r))
		}
	}

	return sb.String()
}
