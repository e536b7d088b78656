package model

import (
	"strings"
	"time"
)

// Importance ranks how market-moving an economic event is expected to be.
// The zero value None covers holiday and unclassified rows; it sorts below
// Low, so such rows never survive a minimum-importance filter.
type Importance int

const (
	ImportanceNone Importance = iota
	ImportanceLow
	ImportanceMedium
	ImportanceHigh
)

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceMedium:
		return "medium"
	case ImportanceHigh:
		return "high"
	default:
		return "none"
	}
}

// ParseImportance maps the spellings the data sources use ("High",
// "Medium Impact Expected", "3", ...) onto an Importance level. Anything
// unrecognized, including "Holiday", maps to ImportanceNone.
func ParseImportance(s string) Importance {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case v == "" || strings.Contains(v, "holiday"):
		return ImportanceNone
	case strings.Contains(v, "high") || v == "3":
		return ImportanceHigh
	case strings.Contains(v, "medium") || v == "2":
		return ImportanceMedium
	case strings.Contains(v, "low") || v == "1":
		return ImportanceLow
	default:
		return ImportanceNone
	}
}

// Event is the source-agnostic representation of a single economic calendar
// event. Every source adapter maps its raw payload into this shape so the
// sync engine never needs to know which data source was used.
type Event struct {
	// Currency is the canonical country/currency code, e.g. "USD", "JPY".
	Currency string

	// Name is the human-readable indicator name, e.g. "Non-Farm Payrolls".
	Name string

	// ScheduledAt is the release time in UTC. For entries without an
	// intra-day time (bank holidays) it is midnight UTC of the event date
	// and AllDay is set.
	ScheduledAt time.Time
	AllDay      bool

	Importance Importance

	// Actual, Forecast and Previous hold the released/consensus/prior
	// values exactly as the source published them ("180K", "2.4%").
	// Empty string means not yet released; absence is meaningful and is
	// never normalized to "0".
	Actual   string
	Forecast string
	Previous string

	// SourceID names the adapter that produced the event. Diagnostics
	// only; it is not part of event identity.
	SourceID string
}

// Completeness counts the populated value fields. When two fetched rows
// describe the same occurrence, the engine keeps the more complete one.
func (e Event) Completeness() int {
	n := 0
	if e.Actual != "" {
		n++
	}
	if e.Forecast != "" {
		n++
	}
	if e.Previous != "" {
		n++
	}
	return n
}
