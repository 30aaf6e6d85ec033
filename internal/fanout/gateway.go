package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"remindd/internal/model"
	"remindd/internal/storage"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

type Config struct {
	// AnnouncerUserID is the identity that posts into tenant channels. It is
	// added to each channel on first use. 0 disables membership management.
	AnnouncerUserID int64

	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store     storage.Store
	publisher transport.Publisher
	realtime  transport.Realtime
	limiter   *rate.Limiter
	log       logx.Logger
}

func New(cfg Config, store storage.Store, publisher transport.Publisher, realtime transport.Realtime, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if realtime == nil {
		realtime = transport.NopRealtime{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		realtime:  realtime,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:       log,
	}
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// ProcessDue handles every unprocessed announcement whose publish time has
// elapsed. Each announcement is marked processed exactly once, after all
// tenants were attempted, with the handles of the posts that succeeded.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	due, err := s.store.DueAnnouncements(ctx, now)
	if err != nil {
		return fmt.Errorf("fanout: list due announcements: %w", err)
	}

	for _, ann := range due {
		if err := s.processOne(ctx, cfg, lim, now, ann); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, cfg Config, lim *rate.Limiter, now time.Time, ann model.Announcement) error {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("fanout: list tenants: %w", err)
	}

	handles := make([]model.DeliveryHandle, 0, len(tenants))
	var failed int
	for _, org := range tenants {
		h, err := s.postTenant(ctx, cfg, lim, org, ann)
		if err != nil {
			// One tenant must not block the others.
			failed++
			s.log.Error("announcement post failed",
				logx.Int64("announcement_id", ann.ID),
				logx.Int64("org_id", org.ID),
				logx.Err(err))
			continue
		}
		if h != nil {
			handles = append(handles, *h)
		}
	}

	if err := s.store.MarkAnnouncementProcessed(ctx, ann.ID, now, handles); err != nil {
		return fmt.Errorf("fanout: mark processed: %w", err)
	}
	s.log.Info("announcement processed",
		logx.Int64("announcement_id", ann.ID),
		logx.Int("tenants", len(tenants)),
		logx.Int("posted", len(handles)),
		logx.Int("failed", failed))
	return nil
}

// postTenant posts one announcement into one tenant's system channel. A nil
// handle with nil error means the tenant had nothing to deliver to.
func (s *Service) postTenant(ctx context.Context, cfg Config, lim *rate.Limiter, org model.Organization, ann model.Announcement) (h *model.DeliveryHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while posting announcement",
				logx.Int64("org_id", org.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			h, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	ch, ok, err := s.store.ChannelByKind(ctx, org.ID, model.ChannelKindSystem)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lazily create the tenant's system channel. CreateChannel is
		// idempotent on (org, kind), so a racing creator is harmless.
		ch, err = s.store.CreateChannel(ctx, model.Channel{OrgID: org.ID, Kind: model.ChannelKindSystem})
		if err != nil {
			return nil, err
		}
	}

	if cfg.AnnouncerUserID != 0 {
		if err := s.store.EnsureChannelMember(ctx, ch.ID, cfg.AnnouncerUserID); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(ch.ExternalID) == "" {
		// Channel exists but has no transport binding yet: nothing to do.
		s.log.Debug("tenant channel not bound to a transport",
			logx.Int64("org_id", org.ID), logx.Int64("channel_id", ch.ID))
		return nil, nil
	}

	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	msgRef, err := s.publisher.Post(ctx, ch.ExternalID, ann.Message)
	if err != nil {
		return nil, err
	}

	// Live update is fire-and-forget.
	group := fmt.Sprintf("org-%d", org.ID)
	if rerr := s.realtime.Publish(ctx, group, "announcement", ann.Message); rerr != nil {
		s.log.Warn("realtime publish failed", logx.String("group", group), logx.Err(rerr))
	}

	return &model.DeliveryHandle{
		ID:         uuid.NewString(),
		OrgID:      org.ID,
		ChannelID:  ch.ID,
		ChannelRef: ch.ExternalID,
		MessageRef: msgRef,
	}, nil
}

// Retract deletes every recorded post of a processed announcement. It is an
// explicit operation, never performed automatically.
func (s *Service) Retract(ctx context.Context, announcementID int64) error {
	ann, err := s.store.GetAnnouncement(ctx, announcementID)
	if err != nil {
		return err
	}

	var failed int
	for _, h := range ann.Handles {
		if err := s.publisher.Retract(ctx, h.ChannelRef, h.MessageRef); err != nil {
			failed++
			s.log.Error("retract failed",
				logx.Int64("announcement_id", announcementID),
				logx.Int64("org_id", h.OrgID),
				logx.String("message_ref", h.MessageRef),
				logx.Err(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("fanout: %d of %d retractions failed", failed, len(ann.Handles))
	}
	if err := s.store.ClearAnnouncementHandles(ctx, announcementID); err != nil {
		return err
	}
	s.log.Info("announcement retracted",
		logx.Int64("announcement_id", announcementID),
		logx.Int("handles", len(ann.Handles)))
	return nil
}
