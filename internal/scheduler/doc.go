// Package scheduler decides which reminders are due and records that decision
// exactly once.
//
// # Overview
//
// Run() is invoked by an external periodic trigger with a single "now". For
// each non-cancelled event it expands occurrences over [now, now+Window],
// applies exceptions, walks non-declined attendees and their lead-time sets,
// and classifies each (occurrence, lead) pair:
//
//   - Upcoming: the ideal fire time falls inside [now, now+Slack]
//   - Missed catch-up: the ideal fire time has passed but the occurrence has
//     not started yet (covers trigger downtime and delayed runs)
//
// Due reminders go through the ledger's atomic insert-if-absent; only a fresh
// insert produces a notification record. A duplicate report is the expected
// steady-state signal under overlapping runs, never an error.
//
// # Fault isolation
//
// One failing event (e.g. a malformed lead-time set) is logged and skipped;
// the rest of the batch continues. Only a store-level failure aborts the run.
package scheduler
