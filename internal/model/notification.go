package model

import "time"

type NotificationType string

const (
	NotifReminder     NotificationType = "reminder"
	NotifInvite       NotificationType = "invite"
	NotifUpdate       NotificationType = "update"
	NotifCancelled    NotificationType = "cancelled"
	NotifDeclined     NotificationType = "declined"
	NotifRemoved      NotificationType = "removed" // intentionally carries no message
	NotifAnnouncement NotificationType = "announcement"
)

// Notification is one outbound message decision. Created once by the
// notification writer, mutated exactly once by the dispatcher (IsDelivered)
// and by the reader surface (IsRead). Never deleted by this engine.
type Notification struct {
	ID      string // uuid
	EventID int64  // 0 for non-event notifications (announcements)
	UserID  int64
	Type    NotificationType

	// OccurrenceStart is set for reminder notifications: the occurrence's
	// effective start, used for send-time re-validation.
	OccurrenceStart *time.Time

	Message     string
	IsRead      bool
	IsDelivered bool
	CreatedAt   time.Time
}

// LedgerKey identifies exactly one reminder: one lead time for one attendee of
// one occurrence. It is the dedup ledger's primary key.
//
// OccurrenceStart is the occurrence's original generated instant, not the
// effective (possibly rescheduled) start, so a reschedule does not re-fire
// already-sent reminders.
type LedgerKey struct {
	EventID         int64
	UserID          int64
	OccurrenceStart time.Time
	LeadMinutes     int
}

// Announcement is an org-wide broadcast authored by an operator. Processed
// exactly once by the fanout gateway after PublishAt has elapsed.
type Announcement struct {
	ID          int64
	Message     string
	PublishAt   time.Time
	EndAt       *time.Time
	IsProcessed bool
	ProcessedAt *time.Time
	Handles     []DeliveryHandle
}

// DeliveryHandle records one per-tenant post of an announcement so it can be
// retracted later.
type DeliveryHandle struct {
	ID         string `json:"id"` // uuid
	OrgID      int64  `json:"org_id"`
	ChannelID  int64  `json:"channel_id"`
	ChannelRef string `json:"channel_ref"` // transport-specific channel address
	MessageRef string `json:"message_ref"` // transport-specific message id
}
