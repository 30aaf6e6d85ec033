package storage

import (
	"context"
	"errors"
	"time"

	"remindd/internal/model"
)

var (
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage. SQLite is the only driver: the engine's
// correctness rests on the ledger's uniqueness constraint, so a relational
// backend is not optional.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the engine's services.
type Store interface {
	// Calendar read side. Rows are owned by the CRUD surface; the engine
	// only reads them. The write methods exist for that surface (and tests).
	ListSchedulableEvents(ctx context.Context) ([]model.Event, error)
	ListExceptions(ctx context.Context, eventID int64) ([]model.Exception, error)
	ListAttendees(ctx context.Context, eventID int64) ([]model.Attendee, error)
	UpsertEvent(ctx context.Context, ev model.Event) (int64, error)
	PutException(ctx context.Context, ex model.Exception) error
	PutAttendee(ctx context.Context, a model.Attendee) error

	// Dedup ledger. RecordReminder reports whether the key was newly
	// inserted; false means the exact reminder was already recorded.
	RecordReminder(ctx context.Context, key model.LedgerKey, sentAt time.Time) (bool, error)
	CountLedgerEntries(ctx context.Context) (int, error)

	// Notifications.
	CreateNotification(ctx context.Context, n model.Notification) error
	ListUndelivered(ctx context.Context, limit int) ([]model.Notification, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
	CountNotifications(ctx context.Context) (int, error)

	// Recipients.
	GetUser(ctx context.Context, id int64) (model.User, error)
	GetOrganization(ctx context.Context, id int64) (model.Organization, error)
	CreateUser(ctx context.Context, u model.User) (int64, error)
	CreateOrganization(ctx context.Context, o model.Organization) (int64, error)

	// Tenants and per-tenant channels.
	ListActiveTenants(ctx context.Context) ([]model.Organization, error)
	ChannelByKind(ctx context.Context, orgID int64, kind string) (model.Channel, bool, error)
	CreateChannel(ctx context.Context, ch model.Channel) (model.Channel, error)
	EnsureChannelMember(ctx context.Context, channelID, userID int64) error

	// Announcements.
	CreateAnnouncement(ctx context.Context, a model.Announcement) (int64, error)
	GetAnnouncement(ctx context.Context, id int64) (model.Announcement, error)
	DueAnnouncements(ctx context.Context, now time.Time) ([]model.Announcement, error)
	MarkAnnouncementProcessed(ctx context.Context, id int64, processedAt time.Time, handles []model.DeliveryHandle) error
	ClearAnnouncementHandles(ctx context.Context, id int64) error

	Close() error
}
