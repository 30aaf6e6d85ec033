// Package dispatch drains undelivered notifications and sends them.
//
// The dispatcher runs on its own cadence, independent of the scheduler that
// created the records. Each run selects the oldest undelivered notifications,
// applies per-type eligibility at SEND time (not creation time: the two are
// decoupled, so a reminder can be stale by the time it is dispatched), renders
// a message, and sends it through the configured transport.
//
// Delivery marking is the idempotency hinge: every record, sent or skipped,
// has IsDelivered flipped exactly once, so a re-run never reprocesses a
// completed record. A failed send leaves the record undelivered for the next
// run (at-least-once to the transport).
package dispatch
