// Package fanout broadcasts org-wide announcements to every tenant's own
// delivery channel.
//
// This is the sibling pipeline to the per-user reminder flow: one message, one
// post per tenant. Each tenant's "system" channel is resolved (or lazily
// created, idempotently) on first use, the announcing identity is ensured as a
// member, and the resulting delivery handles are persisted with the record so
// the whole broadcast can be retracted later. A tenant failure never stops the
// remaining tenants; the record is marked processed after all tenants were
// attempted.
package fanout
