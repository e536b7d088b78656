// Package source provides the economic-calendar data sources.
//
// Every adapter normalises its provider's response into []model.Event so
// the sync engine never needs to know which provider was used. New
// providers are added to the factory switch in NewFromConfig.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// Available lists the registered source names.
var Available = []string{"fmp", "forexfactory", "ics"}

// Source fetches raw economic events covering [from, to).
//
// Implementations normalise timestamps to UTC and leave unreleased values
// as empty strings. They do not filter by currency or importance; that is
// the engine's job.
type Source interface {
	Name() string
	Fetch(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// FetchError reports that a source could not produce events at all
// (network failure, unparseable payload, missing credentials). A run that
// hits one aborts before touching the calendar.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: fetch failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFromConfig returns the adapter selected by c.Type.
func NewFromConfig(c config.SourceConfig) (Source, error) {
	switch c.Type {
	case "forexfactory":
		return NewForexFactory(c.ForexFactory), nil
	case "fmp":
		return NewFMP(c.FMP), nil
	case "ics":
		return NewICSFeed(c.ICS), nil
	default:
		return nil, fmt.Errorf("unknown source type %q (available: %s)", c.Type, strings.Join(Available, ", "))
	}
}
