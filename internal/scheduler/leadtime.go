package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"remindd/internal/model"
)

// ParseLeadMinutes parses a CSV of positive minute counts ("60,1440") into a
// deduplicated set sorted descending. Descending order keeps ledger writes in
// a stable sequence (longest lead first) so runs are deterministic.
//
// An empty string is an empty set, not an error. Any malformed or
// non-positive entry fails the whole set; a half-honored preference would be
// worse than none.
func ParseLeadMinutes(csv string) ([]int, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("lead minutes: invalid entry %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("lead minutes: entry must be positive, got %d", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// resolveLeadMinutes picks the lead-time set for one attendee: the attendee's
// custom set if present, else the event default, else the configured fallback.
func resolveLeadMinutes(a model.Attendee, ev model.Event, fallback []int) ([]int, error) {
	if strings.TrimSpace(a.LeadMinutes) != "" {
		return ParseLeadMinutes(a.LeadMinutes)
	}
	if strings.TrimSpace(ev.LeadMinutes) != "" {
		return ParseLeadMinutes(ev.LeadMinutes)
	}
	return fallback, nil
}
