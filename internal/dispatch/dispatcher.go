package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/model"
	"remindd/internal/storage"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

// Config controls one dispatch run.
type Config struct {
	BatchSize  int
	RatePerSec int

	// ReminderCutoff skips a reminder whose occurrence starts within this
	// duration (or has already started) by dispatch time.
	ReminderCutoff time.Duration

	// SkipDomains lists placeholder recipient domains that are never real
	// mailboxes (demo seeds). Matched case-insensitively.
	SkipDomains []string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.ReminderCutoff < 0 {
		c.ReminderCutoff = 0
	}
	if c.SkipDomains == nil {
		c.SkipDomains = []string{"example.com"}
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store   storage.Store
	sender  transport.Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, store storage.Store, sender transport.Sender, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Run performs one dispatch pass. Records are processed oldest-first; a
// failure on one record is logged and leaves it undelivered for the next run.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	batch, err := s.store.ListUndelivered(ctx, cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("dispatch: select batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	var sent, skipped, failed int
	for _, n := range batch {
		switch s.dispatchOne(ctx, cfg, lim, now, n) {
		case outcomeSent:
			sent++
		case outcomeSkipped:
			skipped++
		case outcomeFailed:
			failed++
		}
	}
	s.log.Info("dispatch run finished",
		logx.Int("batch", len(batch)),
		logx.Int("sent", sent),
		logx.Int("skipped", skipped),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)))
	return nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Service) dispatchOne(ctx context.Context, cfg Config, lim *rate.Limiter, now time.Time, n model.Notification) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while dispatching notification",
				logx.String("id", n.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			out = outcomeFailed
		}
	}()

	recipient, skipReason, err := s.eligibility(ctx, cfg, now, n)
	if err != nil {
		s.log.Error("eligibility check failed", logx.String("id", n.ID), logx.Err(err))
		return outcomeFailed
	}
	if skipReason != "" {
		// Ineligible records are completed, never retried.
		s.markDelivered(ctx, n.ID)
		s.log.Debug("notification skipped",
			logx.String("id", n.ID),
			logx.String("type", string(n.Type)),
			logx.String("reason", skipReason))
		return outcomeSkipped
	}

	subject, body, ok := render(n)
	if !ok {
		s.markDelivered(ctx, n.ID)
		s.log.Debug("notification has no deliverable payload",
			logx.String("id", n.ID), logx.String("type", string(n.Type)))
		return outcomeSkipped
	}

	if err := lim.Wait(ctx); err != nil {
		return outcomeFailed
	}
	if err := s.sender.Send(ctx, recipient, subject, body); err != nil {
		// Leave undelivered; the next run retries.
		s.log.Warn("send failed",
			logx.String("id", n.ID),
			logx.Int64("user_id", n.UserID),
			logx.Err(err))
		return outcomeFailed
	}

	s.markDelivered(ctx, n.ID)
	return outcomeSent
}

// eligibility applies the skip-but-mark rules. It returns the resolved
// recipient address, or a non-empty skip reason.
func (s *Service) eligibility(ctx context.Context, cfg Config, now time.Time, n model.Notification) (recipient, skipReason string, err error) {
	// Time-sensitive types are re-validated at send time. Creation and
	// dispatch are decoupled; the reminder may be stale by now.
	if n.Type == model.NotifReminder && n.OccurrenceStart != nil {
		if !now.Before(n.OccurrenceStart.Add(-cfg.ReminderCutoff)) {
			return "", "occurrence started or imminent", nil
		}
	}

	user, err := s.store.GetUser(ctx, n.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		// Recipient record gone: nothing to do, not an error.
		return "", "recipient missing", nil
	}
	if err != nil {
		return "", "", err
	}

	org, err := s.store.GetOrganization(ctx, user.OrgID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", "", err
	}
	if err == nil && org.IsSandbox {
		return "", "sandbox tenant", nil
	}

	if matchesDomain(user.Email, cfg.SkipDomains) {
		return "", "placeholder recipient domain", nil
	}
	return user.Email, "", nil
}

func (s *Service) markDelivered(ctx context.Context, id string) {
	flipped, err := s.store.MarkDelivered(ctx, id)
	if err != nil {
		s.log.Error("mark delivered failed", logx.String("id", id), logx.Err(err))
		return
	}
	if !flipped {
		// A concurrent dispatcher completed this record first.
		s.log.Debug("record already marked delivered", logx.String("id", id))
	}
}

func matchesDomain(email string, domains []string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return true // unroutable address, treat as placeholder
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range domains {
		if domain == strings.ToLower(strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}
