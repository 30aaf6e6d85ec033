// Package transport defines the delivery interfaces the engine sends through.
//
// The engine never depends on a concrete transport: the dispatcher renders a
// message and hands it to a Sender; the fanout gateway posts through a
// Publisher. Adapters (e.g. transport/telegram) implement these for a given
// deployment.
package transport

import "context"

// Sender delivers one rendered message to one recipient address.
// Implementations decide what an address means (email, chat id, ...).
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Publisher posts to a named delivery channel and can retract earlier posts.
// Post returns a transport-specific message reference used for retraction.
type Publisher interface {
	Post(ctx context.Context, channelRef, text string) (msgRef string, err error)
	Retract(ctx context.Context, channelRef, msgRef string) error
}

// Realtime pushes live updates to a channel group. Fire-and-forget: failures
// are the caller's to log, never to retry.
type Realtime interface {
	Publish(ctx context.Context, group, eventType string, payload any) error
}

// NopSender discards everything. Useful for dry runs and tests.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, recipient, subject, body string) error { return nil }

// NopRealtime discards everything.
type NopRealtime struct{}

func (NopRealtime) Publish(ctx context.Context, group, eventType string, payload any) error {
	return nil
}
