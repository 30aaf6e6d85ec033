package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"remindd/internal/model"
	"remindd/internal/notify"
	"remindd/internal/recurrence"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Config controls one scheduling run.
//
// Window must cover the longest configured lead time plus a safety margin
// (25h covers a 24h lead with slack). Slack should match the trigger
// interval so a reminder is picked up by exactly one "upcoming" window.
type Config struct {
	Window      time.Duration
	Slack       time.Duration
	Workers     int
	DefaultLead string // fallback lead-minutes CSV when event and attendee set none
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 25 * time.Hour
	}
	if c.Slack <= 0 {
		c.Slack = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DefaultLead == "" {
		c.DefaultLead = "60"
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store  storage.Store
	writer *notify.Writer
	log    logx.Logger
}

func New(cfg Config, store storage.Store, writer *notify.Writer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), store: store, writer: writer, log: log}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Run performs one scheduling pass. now is read once by the caller and
// threaded through every decision so the run is internally consistent.
//
// The returned error is systemic (store unreachable); per-event failures are
// logged and swallowed.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	fallback, err := ParseLeadMinutes(cfg.DefaultLead)
	if err != nil {
		return fmt.Errorf("scheduler: default lead set: %w", err)
	}

	events, err := s.store.ListSchedulableEvents(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	queue := make(chan model.Event)
	var wg sync.WaitGroup

	workers := cfg.Workers
	if workers > len(events) {
		workers = len(events)
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for ev := range queue {
				s.runEvent(ctx, cfg, now, ev, fallback)
			}
		}()
	}
	for _, ev := range events {
		queue <- ev
	}
	close(queue)
	wg.Wait()

	s.log.Debug("scheduling run finished",
		logx.Int("events", len(events)),
		logx.Duration("took", time.Since(start)))
	return nil
}

// runEvent isolates one event: a panic or error here never aborts the batch.
func (s *Service) runEvent(ctx context.Context, cfg Config, now time.Time, ev model.Event, fallback []int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while scheduling event",
				logx.Int64("event_id", ev.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	if err := s.processEvent(ctx, cfg, now, ev, fallback); err != nil {
		s.log.Error("event scheduling failed", logx.Int64("event_id", ev.ID), logx.Err(err))
	}
}

func (s *Service) processEvent(ctx context.Context, cfg Config, now time.Time, ev model.Event, fallback []int) error {
	exceptions, err := s.store.ListExceptions(ctx, ev.ID)
	if err != nil {
		return err
	}

	occs, err := recurrence.Expand(ev.Rule, ev.StartAt, now, now.Add(cfg.Window), exceptions)
	if err != nil {
		return err
	}
	if len(occs) == 0 {
		return nil
	}

	attendees, err := s.store.ListAttendees(ctx, ev.ID)
	if err != nil {
		return err
	}

	for _, occ := range occs {
		// Past occurrences never get new reminders, even when a reschedule
		// moved them behind "now".
		if !occ.EffectiveStart.After(now) {
			continue
		}
		for _, att := range attendees {
			if att.Status == model.AttendeeDeclined {
				continue
			}
			leads, err := resolveLeadMinutes(att, ev, fallback)
			if err != nil {
				return err
			}
			for _, lead := range leads {
				if err := s.fireIfDue(ctx, cfg, now, ev, occ, att.UserID, lead); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Service) fireIfDue(ctx context.Context, cfg Config, now time.Time, ev model.Event, occ model.Occurrence, userID int64, lead int) error {
	class := classify(now, occ.EffectiveStart, lead, cfg.Slack)
	if class == notDue {
		return nil
	}

	key := model.LedgerKey{
		EventID:         ev.ID,
		UserID:          userID,
		OccurrenceStart: occ.OriginalStart,
		LeadMinutes:     lead,
	}
	inserted, err := s.store.RecordReminder(ctx, key, now)
	if err != nil {
		return err
	}
	if !inserted {
		// Already recorded by an earlier or concurrent run. Redundant, not an error.
		return nil
	}

	_, err = s.writer.Create(ctx, ev.ID, userID, model.NotifReminder, &occ.EffectiveStart, ev.Title, now)
	if err != nil {
		return err
	}
	s.log.Info("reminder scheduled",
		logx.Int64("event_id", ev.ID),
		logx.Int64("user_id", userID),
		logx.Int("lead_min", lead),
		logx.Time("occurrence", occ.OriginalStart),
		logx.String("class", class.String()))
	return nil
}

type dueClass int

const (
	notDue dueClass = iota
	dueUpcoming
	dueCatchup
)

func (c dueClass) String() string {
	switch c {
	case dueUpcoming:
		return "upcoming"
	case dueCatchup:
		return "catchup"
	default:
		return "not-due"
	}
}

// classify decides whether a reminder with the given lead time is due this
// run. effectiveStart must already be in the future relative to now.
func classify(now, effectiveStart time.Time, leadMinutes int, slack time.Duration) dueClass {
	reminderAt := effectiveStart.Add(-time.Duration(leadMinutes) * time.Minute)
	switch {
	case reminderAt.Before(now):
		// Ideal fire time already passed, occurrence has not started: catch up.
		return dueCatchup
	case !reminderAt.After(now.Add(slack)):
		return dueUpcoming
	default:
		return notDue
	}
}
