package engine

import (
	"strings"
	"time"

	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// Filter reduces raw source events to the desired set for one run: only
// target currencies, at or above the minimum importance, inside the sync
// window, one event per fingerprint. Pure function of its inputs.
func Filter(events []model.Event, cfg Config, now time.Time) []model.Event {
	from, to := window(now, cfg.WindowWeeks)

	targets := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		targets[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	// Dedup keeps the most complete event per fingerprint. Replacing in
	// place preserves first-seen order, so input order decides ties and
	// the result is deterministic either way round.
	byKey := make(map[string]int)
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !targets[ev.Currency] {
			continue
		}
		if ev.Importance < cfg.MinImportance {
			continue
		}
		if !inWindow(ev, from, to) {
			continue
		}

		key := Fingerprint(ev)
		if i, ok := byKey[key]; ok {
			if ev.Completeness() > out[i].Completeness() {
				out[i] = ev
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, ev)
	}
	return out
}

// window is the forward-looking sync range [now, now+weeks).
func window(now time.Time, weeks int) (time.Time, time.Time) {
	from := now.UTC()
	return from, from.Add(time.Duration(weeks) * 7 * 24 * time.Hour)
}

// inWindow bounds an event to [from, to). All-day events count for the
// whole of their day, so an ongoing holiday is not dropped just because
// its midnight timestamp is behind now.
func inWindow(ev model.Event, from, to time.Time) bool {
	t := ev.ScheduledAt.UTC()
	if ev.AllDay {
		const day = 24 * time.Hour
		dayEnd := t.Truncate(day).Add(day)
		return dayEnd.After(from) && t.Before(to)
	}
	return !t.Before(from) && t.Before(to)
}
