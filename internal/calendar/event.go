package calendar

import (
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// Private extended-property keys marking an entry as engine-owned.
const (
	propManaged     = "econcal_managed"
	propFingerprint = "econcal_fingerprint"
	propHash        = "econcal_hash"
	managedValue    = "1"
)

// Calendar colorId values: 11 = Tomato (red), 5 = Banana (yellow).
var importanceColor = map[model.Importance]string{
	model.ImportanceHigh:   "11",
	model.ImportanceMedium: "5",
}

var importanceStars = map[model.Importance]string{
	model.ImportanceHigh:   "★★★",
	model.ImportanceMedium: "★★",
}

// Options controls how events are presented on the calendar.
type Options struct {
	// Timezone is the IANA zone attached to timed entries.
	Timezone string

	// EventDuration is the display length of a timed entry.
	EventDuration time.Duration

	// ReminderMinutes lists popup reminder offsets before the event.
	ReminderMinutes []int

	// CountryFlags maps currency codes to flag emoji for entry titles.
	CountryFlags map[string]string
}

// buildBody renders an Event into a calendar event body, with the engine
// metadata attached as private extended properties.
func buildBody(ev model.Event, fingerprint, contentHash string, o Options) *gcal.Event {
	body := &gcal.Event{
		Summary:     summaryFor(ev, o),
		Description: descriptionFor(ev),
		ColorId:     importanceColor[ev.Importance],
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       reminderOverrides(o.ReminderMinutes),
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				propManaged:     managedValue,
				propFingerprint: fingerprint,
				propHash:        contentHash,
			},
		},
	}
	body.Start, body.End = eventTimes(ev, o)
	return body
}

func summaryFor(ev model.Event, o Options) string {
	parts := make([]string, 0, 3)
	if flag := o.CountryFlags[ev.Currency]; flag != "" {
		parts = append(parts, flag)
	}
	if stars := importanceStars[ev.Importance]; stars != "" {
		parts = append(parts, stars)
	}
	parts = append(parts, ev.Name)
	return strings.Join(parts, " ")
}

// descriptionFor lists the figures; unreleased values render as N/A, never
// as zero.
func descriptionFor(ev model.Event) string {
	orNA := func(v string) string {
		if v == "" {
			return "N/A"
		}
		return v
	}
	return fmt.Sprintf("Forecast: %s\nPrevious: %s\nActual: %s",
		orNA(ev.Forecast), orNA(ev.Previous), orNA(ev.Actual))
}

func eventTimes(ev model.Event, o Options) (*gcal.EventDateTime, *gcal.EventDateTime) {
	if ev.AllDay {
		day := ev.ScheduledAt.UTC()
		return &gcal.EventDateTime{Date: day.Format("2006-01-02")},
			&gcal.EventDateTime{Date: day.Add(24 * time.Hour).Format("2006-01-02")}
	}
	start := ev.ScheduledAt.UTC()
	end := start.Add(o.EventDuration)
	return &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: o.Timezone},
		&gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: o.Timezone}
}

func reminderOverrides(minutes []int) []*gcal.EventReminder {
	out := make([]*gcal.EventReminder, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, &gcal.EventReminder{Method: "popup", Minutes: int64(m)})
	}
	return out
}
