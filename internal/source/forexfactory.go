package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// forexFactory combines two ForexFactory data paths:
//
//  1. the free this-week JSON feed (no auth, current week only), and
//  2. an optional headless-Chrome scrape of the calendar page for weeks
//     beyond "this week".
//
// Either path alone is enough to produce events; only both failing is a
// fetch failure. Overlapping occurrences collapse in the engine's dedup.
type forexFactory struct {
	cfg    config.ForexFactoryConfig
	client *http.Client
}

func NewForexFactory(cfg config.ForexFactoryConfig) *forexFactory {
	to := cfg.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &forexFactory{cfg: cfg, client: newHTTPClient(to)}
}

func (f *forexFactory) Name() string { return "forexfactory" }

func (f *forexFactory) Fetch(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	events, feedErr := f.fetchFeed(ctx)
	if feedErr != nil {
		appLog.Error("forexfactory feed fetch failed", feedErr)
	}

	var scrapeErr error
	if f.cfg.BrowserScrape {
		scraped, err := f.scrapeRange(ctx, from, to)
		if err != nil {
			scrapeErr = err
			appLog.Error("forexfactory browser scrape failed", err)
		} else {
			events = append(events, scraped...)
		}
	}

	if feedErr != nil && (!f.cfg.BrowserScrape || scrapeErr != nil) {
		return nil, &FetchError{Source: f.Name(), Err: feedErr}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if inRange(ev.ScheduledAt, from, to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ffFeedItem is one entry of the this-week JSON feed. All values arrive as
// strings; released figures keep their display form ("180K", "3.1%").
type ffFeedItem struct {
	Title    string `json:"title"`
	Country  string `json:"country"`
	Date     string `json:"date"`
	Impact   string `json:"impact"`
	Forecast string `json:"forecast"`
	Previous string `json:"previous"`
	Actual   string `json:"actual"`
}

func (f *forexFactory) fetchFeed(ctx context.Context) ([]model.Event, error) {
	var items []ffFeedItem
	if err := getJSON(ctx, f.client, f.cfg.FeedURL, &items); err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(items))
	for _, it := range items {
		when, allDay, err := parseWhen(it.Date)
		if err != nil {
			appLog.Debug("forexfactory feed item skipped", "title", it.Title, "reason", err.Error())
			continue
		}
		events = append(events, model.Event{
			Currency:    strings.ToUpper(strings.TrimSpace(it.Country)),
			Name:        strings.TrimSpace(it.Title),
			ScheduledAt: when,
			AllDay:      allDay,
			Importance:  model.ParseImportance(it.Impact),
			Actual:      strings.TrimSpace(it.Actual),
			Forecast:    strings.TrimSpace(it.Forecast),
			Previous:    strings.TrimSpace(it.Previous),
			SourceID:    f.Name(),
		})
	}
	return events, nil
}

// ffScrapeRow is one calendar table row as extracted in the browser.
type ffScrapeRow struct {
	Day      string `json:"day"`
	Time     string `json:"time"`
	Currency string `json:"currency"`
	Impact   string `json:"impact"`
	Event    string `json:"event"`
	Actual   string `json:"actual"`
	Forecast string `json:"forecast"`
	Previous string `json:"previous"`
}

// extractRowsJS walks the calendar table and returns one object per event
// row. Day-breaker rows carry the date; time cells are blank when a row
// shares the time of the row above, so both are tracked while walking.
const extractRowsJS = `(() => {
	const rows = [];
	let day = '';
	let tm = '';
	const text = (tr, sel) => {
		const el = tr.querySelector(sel);
		return el ? el.textContent.trim() : '';
	};
	for (const tr of document.querySelectorAll('tr.calendar__row')) {
		if (tr.classList.contains('calendar__row--day-breaker')) {
			day = tr.textContent.trim();
			tm = '';
			continue;
		}
		const t = text(tr, 'td.calendar__time');
		if (t) tm = t;
		const impactEl = tr.querySelector('td.calendar__impact span');
		rows.push({
			day: day,
			time: tm,
			currency: text(tr, 'td.calendar__currency'),
			impact: impactEl ? (impactEl.getAttribute('title') || '') : '',
			event: text(tr, 'td.calendar__event'),
			actual: text(tr, 'td.calendar__actual'),
			forecast: text(tr, 'td.calendar__forecast'),
			previous: text(tr, 'td.calendar__previous'),
		});
	}
	return rows;
})()`

// Anonymous sessions render calendar times in the site default zone.
const ffDisplayZone = "America/New_York"

func (f *forexFactory) scrapeRange(parentCtx context.Context, from, to time.Time) ([]model.Event, error) {
	url := ffRangeURL(from, to)

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var rows []ffScrapeRow
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitVisible(`table.calendar__table`, chromedp.ByQuery),
		// Small extra delay to let the table finish populating.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(extractRowsJS, &rows),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}

	loc, err := time.LoadLocation(ffDisplayZone)
	if err != nil {
		return nil, err
	}
	return f.eventsFromRows(rows, from, to, loc), nil
}

// ffRangeURL builds the calendar range URL, e.g.
// https://www.forexfactory.com/calendar?range=jan5.2024-feb2.2024
func ffRangeURL(from, to time.Time) string {
	f := strings.ToLower(from.UTC().Format("Jan2.2006"))
	t := strings.ToLower(to.UTC().Format("Jan2.2006"))
	return fmt.Sprintf("https://www.forexfactory.com/calendar?range=%s-%s", f, t)
}

var ffDayRe = regexp.MustCompile(`(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s*(\d{1,2})`)

func (f *forexFactory) eventsFromRows(rows []ffScrapeRow, from, to time.Time, loc *time.Location) []model.Event {
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		if row.Currency == "" || row.Event == "" {
			continue
		}
		day, ok := parseFFDay(row.Day, from, to)
		if !ok {
			appLog.Debug("forexfactory scrape row skipped", "day", row.Day, "event", row.Event)
			continue
		}

		when, allDay := ffRowTime(day, row.Time, loc)
		events = append(events, model.Event{
			Currency:    strings.ToUpper(row.Currency),
			Name:        row.Event,
			ScheduledAt: when,
			AllDay:      allDay,
			Importance:  model.ParseImportance(row.Impact),
			Actual:      row.Actual,
			Forecast:    row.Forecast,
			Previous:    row.Previous,
			SourceID:    f.Name(),
		})
	}
	return events
}

// parseFFDay turns a day-breaker label like "Fri Jan 5" (the page may run
// the weekday into the month, "FriJan 5") into a concrete date. The year is
// not on the page, so it is recovered from the requested range.
func parseFFDay(label string, from, to time.Time) (time.Time, bool) {
	m := ffDayRe.FindStringSubmatch(label)
	if m == nil {
		return time.Time{}, false
	}
	md, err := time.Parse("Jan 2", m[1]+" "+m[2])
	if err != nil {
		return time.Time{}, false
	}

	const day = 24 * time.Hour
	lo := from.UTC().Truncate(day)
	hi := to.UTC().Truncate(day).Add(day)
	for _, year := range []int{from.UTC().Year(), from.UTC().Year() + 1} {
		d := time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, time.UTC)
		if !d.Before(lo) && d.Before(hi) {
			return d, true
		}
	}
	return time.Time{}, false
}

// ffRowTime combines a date with the row's time cell. Cells read "8:30am",
// or a non-clock marker ("All Day", "Tentative", "Day 2") for date-scoped
// entries.
func ffRowTime(day time.Time, cell string, loc *time.Location) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(cell))
	if s == "" || strings.Contains(s, "day") || strings.Contains(s, "tentative") {
		return day, true
	}
	clock, err := time.Parse("3:04pm", s)
	if err != nil {
		return day, true
	}
	local := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	return local.UTC(), false
}
