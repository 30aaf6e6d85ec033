package model

import "time"

// Frequency tags a recurrence rule. FreqNone means the event occurs exactly
// once at its StartAt.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

func (f Frequency) String() string {
	switch f {
	case FreqNone:
		return "none"
	case FreqDaily:
		return "daily"
	case FreqWeekly:
		return "weekly"
	case FreqMonthly:
		return "monthly"
	case FreqYearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// RecurrenceRule describes how an event repeats.
//
// Termination is encoded by Count/Until:
//   - Count == 0 && Until.IsZero(): never terminates
//   - Count > 0: terminates after Count occurrences (including the first)
//   - !Until.IsZero(): no occurrence after Until
//
// Count and Until are mutually exclusive; if both are set, Count wins.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int       // every N periods; values < 1 are treated as 1
	Count    int       // 0 = unbounded
	Until    time.Time // zero = unbounded
}

func (r RecurrenceRule) IsRecurring() bool { return r.Freq != FreqNone }

// Expired reports whether the rule's until-date lies strictly before ref.
// An expired rule yields no occurrences regardless of the query window.
func (r RecurrenceRule) Expired(ref time.Time) bool {
	return r.IsRecurring() && !r.Until.IsZero() && r.Until.Before(ref)
}

// Event is the read-side view of a calendar event. Rows are owned and mutated
// by the calendar CRUD surface; this engine only reads them.
type Event struct {
	ID      int64
	Title   string
	StartAt time.Time
	EndAt   time.Time
	Rule    RecurrenceRule

	// LeadMinutes is the event's default reminder lead-time set as a CSV of
	// positive minute counts, e.g. "60,1440". Attendees may override it.
	LeadMinutes string

	IsCancelled bool
	CreatedAt   time.Time
}

// Exception modifies or cancels a single generated occurrence of a recurring
// event. At most one exception exists per (EventID, OriginalStart).
type Exception struct {
	EventID       int64
	OriginalStart time.Time
	ModifiedStart *time.Time // nil = start unchanged
	IsCancelled   bool
}

type AttendeeStatus string

const (
	AttendeePending  AttendeeStatus = "pending"
	AttendeeAccepted AttendeeStatus = "accepted"
	AttendeeDeclined AttendeeStatus = "declined"
)

// Attendee links a user to an event. Declined attendees never receive
// reminders.
type Attendee struct {
	EventID    int64
	UserID     int64
	Status     AttendeeStatus
	IsOptional bool

	// LeadMinutes is the attendee's custom lead-time CSV. Empty means
	// "inherit the event default".
	LeadMinutes string
}

// Occurrence is one concrete instance of a (possibly recurring) event.
//
// OriginalStart is the instant generated by the recurrence rule and is the
// stable identity of the occurrence: exceptions and ledger entries are keyed
// by it. EffectiveStart is the instant used for all timing math, after any
// exception rescheduling.
type Occurrence struct {
	OriginalStart  time.Time
	EffectiveStart time.Time
}

// User is the read-side view of a recipient.
type User struct {
	ID          int64
	Email       string
	DisplayName string
	OrgID       int64
}

// Organization is a tenant.
type Organization struct {
	ID        int64
	Name      string
	IsActive  bool
	IsSandbox bool // sandbox/demo tenants never receive outbound mail
}

// Channel is a per-tenant delivery channel (e.g. the tenant's "system"
// announcements channel). (OrgID, Kind) is unique.
type Channel struct {
	ID         int64
	OrgID      int64
	Kind       string
	ExternalID string // transport-specific address; empty = not yet bound
}

// ChannelKindSystem is the per-tenant channel used for org-wide announcements.
const ChannelKindSystem = "system"
