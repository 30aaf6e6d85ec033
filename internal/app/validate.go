package app

import (
	"errors"
	"fmt"
	"strings"

	"remindd/internal/config"
	"remindd/internal/scheduler"
)

// Validate rejects configs that would fail at runtime. It is also the hot
// reload gate: a rejected config is never committed or published.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)); d {
	case "", "none":
	case "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			return errors.New("transport.telegram.token is required for the telegram driver")
		}
	default:
		return fmt.Errorf("unknown transport driver: %q", d)
	}

	if cfg.Scheduler.DefaultLead != "" {
		if _, err := scheduler.ParseLeadMinutes(cfg.Scheduler.DefaultLead); err != nil {
			return fmt.Errorf("scheduler.default_lead_minutes: %w", err)
		}
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"triggers.run_timeout":     cfg.Triggers.RunTimeout,
		"scheduler.window":         cfg.Scheduler.Window,
		"scheduler.slack":          cfg.Scheduler.Slack,
		"dispatch.reminder_cutoff": cfg.Dispatch.ReminderCutoff,
	} {
		if _, err := config.ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}
