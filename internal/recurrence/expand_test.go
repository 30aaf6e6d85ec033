package recurrence

import (
	"testing"
	"time"

	"remindd/internal/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestExpandSingleOccurrence(t *testing.T) {
	t.Parallel()
	start := ts("2024-01-10T10:00:00Z")

	tests := []struct {
		name        string
		windowStart time.Time
		windowEnd   time.Time
		want        int
	}{
		{"inside window", ts("2024-01-10T00:00:00Z"), ts("2024-01-11T00:00:00Z"), 1},
		{"at window start", start, ts("2024-01-11T00:00:00Z"), 1},
		{"at window end", ts("2024-01-10T00:00:00Z"), start, 1},
		{"before window", ts("2024-01-10T10:00:01Z"), ts("2024-01-11T00:00:00Z"), 0},
		{"after window", ts("2024-01-09T00:00:00Z"), ts("2024-01-10T09:59:59Z"), 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Expand(model.RecurrenceRule{}, start, tt.windowStart, tt.windowEnd, nil)
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d occurrences, want %d", len(got), tt.want)
			}
			if tt.want == 1 && !got[0].OriginalStart.Equal(start) {
				t.Fatalf("occurrence = %v, want %v", got[0].OriginalStart, start)
			}
		})
	}
}

func TestExpandDailyOrdered(t *testing.T) {
	t.Parallel()
	rule := model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1}
	start := ts("2024-01-01T09:00:00Z")

	got, err := Expand(rule, start, ts("2024-01-05T00:00:00Z"), ts("2024-01-08T00:00:00Z"), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(got))
	}
	for i, want := range []string{"2024-01-05T09:00:00Z", "2024-01-06T09:00:00Z", "2024-01-07T09:00:00Z"} {
		if !got[i].OriginalStart.Equal(ts(want)) {
			t.Fatalf("occurrence[%d] = %v, want %s", i, got[i].OriginalStart, want)
		}
	}
}

func TestExpandInterval(t *testing.T) {
	t.Parallel()
	rule := model.RecurrenceRule{Freq: model.FreqWeekly, Interval: 2}
	start := ts("2024-01-01T12:00:00Z")

	got, err := Expand(rule, start, start, ts("2024-02-01T00:00:00Z"), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// Jan 1, Jan 15, Jan 29.
	if len(got) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(got))
	}
}

func TestExpandCountTermination(t *testing.T) {
	t.Parallel()
	rule := model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1, Count: 3}
	start := ts("2024-01-01T09:00:00Z")

	// Count is evaluated on the raw sequence before windowing: only Jan 1-3
	// exist at all, so a later window sees nothing.
	got, err := Expand(rule, start, ts("2024-01-04T00:00:00Z"), ts("2024-01-31T00:00:00Z"), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d occurrences, want 0", len(got))
	}

	got, err = Expand(rule, start, start, ts("2024-01-31T00:00:00Z"), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(got))
	}
}

func TestExpandUntilInPast(t *testing.T) {
	t.Parallel()
	// Termination is independent of windowing: an expired rule yields nothing
	// even though the event's start instant is inside the window.
	rule := model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1, Until: ts("2023-12-31T00:00:00Z")}
	start := ts("2024-01-10T10:00:00Z")

	got, err := Expand(rule, start, ts("2024-01-10T00:00:00Z"), ts("2024-01-11T00:00:00Z"), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d occurrences, want 0", len(got))
	}
}

func TestExpandCancelledException(t *testing.T) {
	t.Parallel()
	rule := model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1}
	start := ts("2024-01-01T09:00:00Z")
	exc := []model.Exception{{EventID: 1, OriginalStart: ts("2024-01-02T09:00:00Z"), IsCancelled: true}}

	got, err := Expand(rule, start, start, ts("2024-01-04T00:00:00Z"), exc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// Jan 1 and Jan 3 survive; exactly Jan 2 is suppressed.
	if len(got) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(got))
	}
	for _, occ := range got {
		if occ.OriginalStart.Equal(ts("2024-01-02T09:00:00Z")) {
			t.Fatal("cancelled occurrence was not suppressed")
		}
	}
}

func TestExpandModifiedStart(t *testing.T) {
	t.Parallel()
	rule := model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1}
	start := ts("2024-01-01T09:00:00Z")
	moved := ts("2024-01-02T14:30:00Z")
	exc := []model.Exception{{EventID: 1, OriginalStart: ts("2024-01-02T09:00:00Z"), ModifiedStart: &moved}}

	got, err := Expand(rule, start, start, ts("2024-01-03T00:00:00Z"), exc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(got))
	}
	// The rescheduled occurrence keeps its original identity.
	if !got[1].OriginalStart.Equal(ts("2024-01-02T09:00:00Z")) {
		t.Fatalf("original start = %v, want 2024-01-02T09:00:00Z", got[1].OriginalStart)
	}
	if !got[1].EffectiveStart.Equal(moved) {
		t.Fatalf("effective start = %v, want %v", got[1].EffectiveStart, moved)
	}
	// Untouched occurrence is unchanged.
	if !got[0].EffectiveStart.Equal(got[0].OriginalStart) {
		t.Fatal("unmodified occurrence should keep its start")
	}
}

func TestExpandInvertedWindow(t *testing.T) {
	t.Parallel()
	_, err := Expand(model.RecurrenceRule{}, ts("2024-01-01T00:00:00Z"),
		ts("2024-01-02T00:00:00Z"), ts("2024-01-01T00:00:00Z"), nil)
	if err == nil {
		t.Fatal("expected error for inverted window")
	}
}
