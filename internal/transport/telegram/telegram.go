// Package telegram adapts the transport interfaces onto a Telegram bot, for
// deployments that deliver reminders and tenant announcements through chats.
// Recipient addresses and channel refs are chat IDs in decimal form.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "remindd/pkg/logx"
)

type Config struct {
	Token string

	// Timeout bounds each API call.
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// Send-only bot: no poller.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Send implements transport.Sender. The subject becomes the first line.
func (a *Adapter) Send(ctx context.Context, recipient, subject, body string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}
	text := body
	if subject != "" {
		text = subject + "\n\n" + body
	}
	_, err = a.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// Post implements transport.Publisher.
func (a *Adapter) Post(ctx context.Context, channelRef, text string) (string, error) {
	chatID, err := parseChatID(channelRef)
	if err != nil {
		return "", err
	}
	msg, err := a.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// Retract implements transport.Publisher.
func (a *Adapter) Retract(ctx context.Context, channelRef, msgRef string) error {
	chatID, err := parseChatID(channelRef)
	if err != nil {
		return err
	}
	return a.bot.Delete(tele.StoredMessage{MessageID: msgRef, ChatID: chatID})
}

func parseChatID(ref string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil {
		return 0, errors.New("telegram: channel ref is not a chat id: " + ref)
	}
	return id, nil
}
