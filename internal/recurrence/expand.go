// Package recurrence expands recurring-event rules into concrete occurrences.
//
// Expansion is pure: (rule, window, exceptions) -> ordered occurrences. All
// state lives in the caller; the same inputs always yield the same output,
// which is what makes scheduler runs restartable.
package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/model"
)

// maxOccurrencesPerEvent is a safety cap against runaway expansions (e.g. a
// daily rule queried over a very large window).
const maxOccurrencesPerEvent = 1000

var ErrWindowInverted = errors.New("recurrence: window end is before window start")

// Expand generates the occurrences of an event inside [windowStart, windowEnd]
// (inclusive), ascending by original start.
//
// Termination (count/until) is evaluated on the raw sequence before windowing,
// so a rule whose until-date is already past yields nothing even when the
// event's start falls inside the window.
//
// Exceptions are applied per generated instant, keyed by the original instant:
//   - IsCancelled drops the occurrence entirely.
//   - ModifiedStart substitutes the effective start used for timing math; the
//     original instant remains the occurrence's identity.
func Expand(rule model.RecurrenceRule, eventStart, windowStart, windowEnd time.Time, exceptions []model.Exception) ([]model.Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, ErrWindowInverted
	}

	raw, err := rawInstants(rule, eventStart, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	exc := exceptionIndex(exceptions)

	out := make([]model.Occurrence, 0, len(raw))
	for _, at := range raw {
		ex, ok := exc[at.Unix()]
		if ok && ex.IsCancelled {
			continue
		}
		occ := model.Occurrence{OriginalStart: at, EffectiveStart: at}
		if ok && ex.ModifiedStart != nil {
			occ.EffectiveStart = *ex.ModifiedStart
		}
		out = append(out, occ)
	}
	return out, nil
}

func rawInstants(rule model.RecurrenceRule, eventStart, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if !rule.IsRecurring() {
		if !eventStart.Before(windowStart) && !eventStart.After(windowEnd) {
			return []time.Time{eventStart}, nil
		}
		return nil, nil
	}

	opt := rrule.ROption{
		Freq:     freqOf(rule.Freq),
		Interval: rule.Interval,
		Dtstart:  eventStart,
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	// Count wins over Until when both are present.
	if rule.Count > 0 {
		opt.Count = rule.Count
	} else if !rule.Until.IsZero() {
		opt.Until = rule.Until
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	instants := r.Between(windowStart, windowEnd, true)
	if len(instants) > maxOccurrencesPerEvent {
		instants = instants[:maxOccurrencesPerEvent]
	}
	return instants, nil
}

// exceptionIndex keys exceptions by original start, at second resolution.
// The rrule library truncates generated instants to whole seconds, so keys
// must match that granularity.
func exceptionIndex(exceptions []model.Exception) map[int64]model.Exception {
	if len(exceptions) == 0 {
		return nil
	}
	m := make(map[int64]model.Exception, len(exceptions))
	for _, ex := range exceptions {
		m[ex.OriginalStart.Unix()] = ex
	}
	return m
}

func freqOf(f model.Frequency) rrule.Frequency {
	switch f {
	case model.FreqDaily:
		return rrule.DAILY
	case model.FreqWeekly:
		return rrule.WEEKLY
	case model.FreqMonthly:
		return rrule.MONTHLY
	case model.FreqYearly:
		return rrule.YEARLY
	default:
		// FreqNone is handled before rule construction; daily is a safe
		// fallback for future tags.
		return rrule.DAILY
	}
}
