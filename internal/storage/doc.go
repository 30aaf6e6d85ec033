// Package storage is the persistence layer shared by the reminder engine and
// the calendar CRUD surface.
//
// It owns:
//   - The read-side calendar views (events, exceptions, attendees)
//   - The reminder dedup ledger (the at-most-once guard)
//   - The notification outbox consumed by the dispatcher
//   - Tenants, per-tenant channels, and announcement records
//
// The ledger's RecordReminder is the only hard mutual-exclusion primitive in
// the engine: it is a single unique-constrained insert, never a check followed
// by a write, so overlapping scheduler runs can never both observe "absent"
// for the same key.
package storage
