package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindd/internal/config"
	"remindd/internal/transport"
	"remindd/internal/transport/telegram"
	logx "remindd/pkg/logx"
)

func transportDriver(cfg *config.Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
	if d == "" {
		d = "none"
	}
	return d
}

// buildTransport resolves the configured delivery adapter. Driver "none" logs
// every send instead of delivering, which keeps local runs side-effect free.
func buildTransport(cfg *config.Config, log logx.Logger) (transport.Sender, transport.Publisher, error) {
	switch transportDriver(cfg) {
	case "none":
		lt := &logTransport{log: log.With(logx.String("comp", "transport"))}
		return lt, lt, nil
	case "telegram":
		timeout, err := config.ParseDurationOrDefault("transport.telegram.timeout", cfg.Transport.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:   cfg.Transport.Telegram.Token,
			Timeout: timeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, nil, err
		}
		return ad, ad, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport driver: %q", cfg.Transport.Driver)
	}
}

// logTransport is the "none" driver: it records what would have been sent.
type logTransport struct {
	log logx.Logger
}

func (t *logTransport) Send(ctx context.Context, recipient, subject, body string) error {
	t.log.Info("send (dry run)",
		logx.String("to", recipient),
		logx.String("subject", subject))
	return nil
}

func (t *logTransport) Post(ctx context.Context, channelRef, text string) (string, error) {
	ref := uuid.NewString()
	t.log.Info("post (dry run)",
		logx.String("channel", channelRef),
		logx.String("msg_ref", ref))
	return ref, nil
}

func (t *logTransport) Retract(ctx context.Context, channelRef, msgRef string) error {
	t.log.Info("retract (dry run)",
		logx.String("channel", channelRef),
		logx.String("msg_ref", msgRef))
	return nil
}
