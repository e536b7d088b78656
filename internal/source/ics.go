package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// icsFeed reads economic events from a generic iCalendar subscription.
//
// Conventions for such feeds: CATEGORIES carries the currency code and the
// importance word (e.g. "USD,High"); a "CCY:" summary prefix is accepted as
// fallback for the currency; DESCRIPTION lines "Forecast:", "Previous:" and
// "Actual:" carry the figures. Weekly indicators published as recurring
// VEVENTs are expanded inside the fetch window.
type icsFeed struct {
	cfg    config.ICSFeedConfig
	client *http.Client
}

func NewICSFeed(cfg config.ICSFeedConfig) *icsFeed {
	to := cfg.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &icsFeed{cfg: cfg, client: newHTTPClient(to)}
}

func (s *icsFeed) Name() string { return "ics" }

func (s *icsFeed) Fetch(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	if s.cfg.URL == "" {
		return nil, &FetchError{Source: s.Name(), Err: errors.New("url not configured")}
	}

	body, err := s.fetchBody(ctx)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Err: err}
	}

	events, err := eventsFromICS(body, from, to)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Err: err}
	}
	return events, nil
}

func (s *icsFeed) fetchBody(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// eventsFromICS parses an ICS payload and returns all event occurrences
// inside [from, to), expanding RRULEs and honoring EXDATEs. Unparseable
// VEVENTs are logged and skipped so one bad entry does not sink the feed.
func eventsFromICS(body []byte, from, to time.Time) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		evs, perr := expandVEvent(ve, from, to)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		out = append(out, evs...)
	}
	return out, nil
}

func expandVEvent(ve *ical.VEvent, from, to time.Time) ([]model.Event, error) {
	summary := propValue(ve, ical.ComponentPropertySummary)
	if summary == "" {
		return nil, errors.New("missing SUMMARY")
	}

	start, err := ve.GetStartAt()
	if err != nil || start.IsZero() {
		return nil, errors.New("missing or invalid DTSTART")
	}

	allDay := false
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			allDay = true
		}
	}

	ccy, imp, name := classifyICS(propValue(ve, ical.ComponentPropertyCategories), summary)
	actual, forecast, previous := parseFigureLines(propValue(ve, ical.ComponentPropertyDescription))

	mk := func(at time.Time) model.Event {
		return model.Event{
			Currency:    ccy,
			Name:        name,
			ScheduledAt: at.UTC(),
			AllDay:      allDay,
			Importance:  imp,
			Actual:      actual,
			Forecast:    forecast,
			Previous:    previous,
			SourceID:    "ics",
		}
	}

	rawRRule := propValue(ve, ical.ComponentPropertyRrule)
	if rawRRule == "" {
		if !inRange(start, from, to) {
			return nil, nil
		}
		return []model.Event{mk(start)}, nil
	}

	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("bad RRULE %q: %w", rawRRule, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if ex, perr := parseICSStamp(strings.TrimSpace(part)); perr == nil {
				set.ExDate(ex.In(start.Location()))
			}
		}
	}

	events := make([]model.Event, 0)
	lo := from.In(start.Location())
	hi := to.In(start.Location())
	for _, occ := range set.Between(lo, hi, true) {
		events = append(events, mk(occ))
	}
	return events, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

var icsCcyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// classifyICS derives (currency, importance, display name) from CATEGORIES
// and the summary. Importance words win over the currency pattern so that
// a "LOW" category is never mistaken for a currency code.
func classifyICS(categories, summary string) (string, model.Importance, string) {
	ccy := ""
	imp := model.ImportanceNone

	for _, tok := range strings.Split(categories, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if p := model.ParseImportance(tok); p != model.ImportanceNone {
			imp = p
			continue
		}
		if ccy == "" && icsCcyRe.MatchString(strings.ToUpper(tok)) {
			ccy = strings.ToUpper(tok)
		}
	}

	name := summary
	if i := strings.Index(summary, ":"); i == 3 {
		prefix := strings.ToUpper(summary[:3])
		if icsCcyRe.MatchString(prefix) {
			if ccy == "" {
				ccy = prefix
			}
			name = strings.TrimSpace(summary[i+1:])
		}
	}
	return ccy, imp, name
}

// parseFigureLines reads "Forecast: x" style description lines. Escaped
// ICS newlines are unfolded first. "N/A" and "-" mean not released.
func parseFigureLines(desc string) (actual, forecast, previous string) {
	desc = strings.ReplaceAll(desc, `\n`, "\n")
	desc = strings.ReplaceAll(desc, `\N`, "\n")

	clean := func(v string) string {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "n/a") || v == "-" {
			return ""
		}
		return v
	}

	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "actual:"):
			actual = clean(line[len("actual:"):])
		case strings.HasPrefix(lower, "forecast:"):
			forecast = clean(line[len("forecast:"):])
		case strings.HasPrefix(lower, "previous:"):
			previous = clean(line[len("previous:"):])
		}
	}
	return actual, forecast, previous
}

// parseICSStamp parses the basic ICS date / date-time forms used by EXDATE.
func parseICSStamp(v string) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.Parse("20060102T150405", v)
	default:
		return time.Parse("20060102", v)
	}
}
