// Package notify creates notification records for any outbound event.
//
// The writer does no business-rule filtering: deciding WHO gets notified is
// the caller's job (scheduler, calendar surface, fanout). The writer only
// persists the decision, always undelivered at creation.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"remindd/internal/model"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type Writer struct {
	store storage.Store
	log   logx.Logger
}

func NewWriter(store storage.Store, log logx.Logger) *Writer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Writer{store: store, log: log}
}

// Create persists one notification row. occurrenceStart may be nil for
// non-reminder types. at is the batch's single "now".
func (w *Writer) Create(ctx context.Context, eventID, userID int64, typ model.NotificationType, occurrenceStart *time.Time, message string, at time.Time) (model.Notification, error) {
	n := model.Notification{
		ID:              uuid.NewString(),
		EventID:         eventID,
		UserID:          userID,
		Type:            typ,
		OccurrenceStart: occurrenceStart,
		Message:         message,
		CreatedAt:       at,
	}
	if err := w.store.CreateNotification(ctx, n); err != nil {
		return model.Notification{}, err
	}
	w.log.Debug("notification created",
		logx.String("id", n.ID),
		logx.String("type", string(typ)),
		logx.Int64("event_id", eventID),
		logx.Int64("user_id", userID))
	return n, nil
}
