package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// Hash-input encoding: fields are joined with an unprintable separator and
// absent values carry a sentinel, so "" and "0" and a missing value can
// never collide.
const (
	absentSentinel = "\x00"
	fieldSep       = "\x1f"
)

// Fingerprint returns the identity key of an event: currency, normalized
// name and minute-truncated UTC time, joined with '|'. The key is stable
// across runs and across sources, and readable because it shows up in logs
// and failure reports.
func Fingerprint(ev model.Event) string {
	at := ev.ScheduledAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
	return ev.Currency + "|" + normalizeName(ev.Name) + "|" + at
}

// normalizeName lower-cases and collapses whitespace runs so trivial
// formatting differences between sources do not split identities.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ContentHash digests the mutable fields (importance and the three figure
// values). Two events with the same fingerprint but different hashes need
// a calendar update; SourceID is diagnostics and not part of the hash.
func ContentHash(ev model.Event) string {
	enc := func(v string) string {
		if v == "" {
			return absentSentinel
		}
		return v
	}
	payload := strings.Join([]string{
		strconv.Itoa(int(ev.Importance)),
		enc(ev.Actual),
		enc(ev.Forecast),
		enc(ev.Previous),
	}, fieldSep)

	sum := sha256.Sum256([]byte(payload))
	// First 16 hex chars are plenty for change detection.
	return hex.EncodeToString(sum[:8])
}
