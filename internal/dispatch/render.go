package dispatch

import (
	"fmt"
	"time"

	"remindd/internal/model"
)

const occurrenceTimeFormat = "Mon, 02 Jan 2006 15:04 MST"

// render produces a type-specific subject and body. ok is false when the
// type carries no deliverable payload (the record is completed unsent).
func render(n model.Notification) (subject, body string, ok bool) {
	switch n.Type {
	case model.NotifReminder:
		subject = fmt.Sprintf("Reminder: %s", n.Message)
		if n.OccurrenceStart != nil {
			body = fmt.Sprintf("%q starts at %s.", n.Message, formatInstant(*n.OccurrenceStart))
		} else {
			body = fmt.Sprintf("%q is starting soon.", n.Message)
		}
		return subject, body, true
	case model.NotifInvite:
		return fmt.Sprintf("Invitation: %s", n.Message),
			fmt.Sprintf("You have been invited to %q.", n.Message), true
	case model.NotifUpdate:
		return fmt.Sprintf("Updated: %s", n.Message),
			fmt.Sprintf("%q has been updated.", n.Message), true
	case model.NotifCancelled:
		return fmt.Sprintf("Cancelled: %s", n.Message),
			fmt.Sprintf("%q has been cancelled.", n.Message), true
	case model.NotifDeclined:
		return "Invitation declined",
			fmt.Sprintf("An attendee declined %q.", n.Message), true
	case model.NotifAnnouncement:
		return "Announcement", n.Message, true
	case model.NotifRemoved:
		// Removals intentionally carry no message.
		return "", "", false
	default:
		if n.Message == "" {
			return "", "", false
		}
		return "Notification", n.Message, true
	}
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(occurrenceTimeFormat)
}
