package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// fmpCountryToCcy maps FMP's 2-letter country codes to the currency codes
// the rest of the pipeline keys on.
var fmpCountryToCcy = map[string]string{
	"US": "USD",
	"JP": "JPY",
	"GB": "GBP",
	"EU": "EUR",
	"CA": "CAD",
	"AU": "AUD",
	"NZ": "NZD",
	"CH": "CHF",
}

// fmp fetches the Financial Modeling Prep economic calendar. Requires a
// paid API key.
type fmp struct {
	cfg    config.FMPConfig
	client *http.Client
}

func NewFMP(cfg config.FMPConfig) *fmp {
	to := cfg.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &fmp{cfg: cfg, client: newHTTPClient(to)}
}

func (f *fmp) Name() string { return "fmp" }

// fmpItem is one row of the /economic_calendar response. Figures arrive as
// JSON numbers or null, occasionally as strings.
type fmpItem struct {
	Date      string `json:"date"`
	Country   string `json:"country"`
	Event     string `json:"event"`
	Currency  string `json:"currency"`
	Impact    string `json:"impact"`
	Actual    any    `json:"actual"`
	Estimate  any    `json:"estimate"`
	Consensus any    `json:"consensus"`
	Previous  any    `json:"previous"`
}

func (f *fmp) Fetch(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	if f.cfg.APIKey == "" {
		return nil, &FetchError{Source: f.Name(), Err: errors.New("api_key not configured (set FMP_API_KEY)")}
	}

	q := url.Values{}
	q.Set("from", from.UTC().Format("2006-01-02"))
	q.Set("to", to.UTC().Format("2006-01-02"))
	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + "/economic_calendar?" + q.Encode()

	var items []fmpItem
	if err := getJSON(ctx, f.client, endpoint, &items, "apikey", f.cfg.APIKey); err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}

	events := make([]model.Event, 0, len(items))
	for _, it := range items {
		ccy := strings.ToUpper(strings.TrimSpace(it.Currency))
		if ccy == "" {
			ccy = fmpCountryToCcy[strings.ToUpper(strings.TrimSpace(it.Country))]
		}
		when, allDay, err := parseWhen(it.Date)
		if err != nil {
			appLog.Debug("fmp item skipped", "event", it.Event, "reason", err.Error())
			continue
		}
		if !inRange(when, from, to) {
			continue
		}

		forecast := figureString(it.Estimate)
		if forecast == "" {
			forecast = figureString(it.Consensus)
		}
		events = append(events, model.Event{
			Currency:    ccy,
			Name:        strings.TrimSpace(it.Event),
			ScheduledAt: when,
			AllDay:      allDay,
			Importance:  model.ParseImportance(it.Impact),
			Actual:      figureString(it.Actual),
			Forecast:    forecast,
			Previous:    figureString(it.Previous),
			SourceID:    f.Name(),
		})
	}
	return events, nil
}

// figureString renders a figure field as text. null means not released and
// becomes the empty string; numbers keep their shortest decimal form.
func figureString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
