package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eisei-komiya/econ-cal-sync/internal/calendar"
	"github.com/eisei-komiya/econ-cal-sync/internal/engine"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
	"github.com/eisei-komiya/econ-cal-sync/internal/source"
)

var runNow = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func testConfig() engine.Config {
	return engine.Config{
		Currencies:    []string{"USD", "JPY"},
		MinImportance: model.ImportanceMedium,
		WindowWeeks:   4,
	}
}

func newEngine(src *fakeSource, cal *fakeCalendar) *engine.Engine {
	return engine.New(src, cal).WithClock(func() time.Time { return runNow })
}

func evt(ccy, name string, at time.Time, imp model.Importance) model.Event {
	return model.Event{Currency: ccy, Name: name, ScheduledAt: at, Importance: imp, SourceID: "fake"}
}

type fakeSource struct {
	events []model.Event
	err    error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, _, _ time.Time) ([]model.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

// fakeCalendar is an in-memory Client. Writes mutate its entry set, so
// running the engine twice against the same fake exercises idempotence
// for real.
type fakeCalendar struct {
	entries   []calendar.Entry
	listErr   error
	listCalls int

	createErr map[string]error // keyed by fingerprint
	updateErr map[string]error // keyed by entry ID
	deleteErr map[string]error // keyed by entry ID

	createAttempts int
	updated        []string
	deleted        []string
	nextID         int
}

var _ calendar.Client = (*fakeCalendar)(nil)

func (f *fakeCalendar) ListManaged(_ context.Context, _, _ time.Time) ([]calendar.Entry, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]calendar.Entry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeCalendar) Create(_ context.Context, ev model.Event, fingerprint, contentHash string) (string, error) {
	f.createAttempts++
	if err := f.createErr[fingerprint]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("entry-%d", f.nextID)
	f.entries = append(f.entries, calendar.Entry{
		ID:          id,
		Fingerprint: fingerprint,
		ContentHash: contentHash,
		Start:       ev.ScheduledAt,
	})
	return id, nil
}

func (f *fakeCalendar) Update(_ context.Context, entryID string, _ model.Event, contentHash string) error {
	if err := f.updateErr[entryID]; err != nil {
		return err
	}
	for i := range f.entries {
		if f.entries[i].ID == entryID {
			f.entries[i].ContentHash = contentHash
		}
	}
	f.updated = append(f.updated, entryID)
	return nil
}

func (f *fakeCalendar) Delete(_ context.Context, entryID string) error {
	if err := f.deleteErr[entryID]; err != nil {
		return err
	}
	for i := range f.entries {
		if f.entries[i].ID == entryID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, entryID)
	return nil
}

func entryFor(ev model.Event) calendar.Entry {
	return calendar.Entry{
		ID:          "existing-" + engine.Fingerprint(ev),
		Fingerprint: engine.Fingerprint(ev),
		ContentHash: engine.ContentHash(ev),
		Start:       ev.ScheduledAt,
	}
}

func TestRunCreatesNewEvent(t *testing.T) {
	ev := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	src := &fakeSource{events: []model.Event{ev}}
	cal := &fakeCalendar{}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, sum.Deleted)
	assert.Equal(t, 0, sum.Skipped)
	require.Len(t, cal.entries, 1)
	assert.Equal(t, "USD|cpi|2024-06-10T12:30:00Z", cal.entries[0].Fingerprint)
	assert.Equal(t, engine.ContentHash(ev), cal.entries[0].ContentHash)
}

func TestRunSkipsWhenContentUnchanged(t *testing.T) {
	ev := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	src := &fakeSource{events: []model.Event{ev}}
	cal := &fakeCalendar{entries: []calendar.Entry{entryFor(ev)}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Created)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, cal.createAttempts)
	assert.Empty(t, cal.updated)
}

func TestRunUpdatesOnContentChange(t *testing.T) {
	old := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	old.Actual = "2.9"
	revised := old
	revised.Actual = "3.1"

	src := &fakeSource{events: []model.Event{revised}}
	cal := &fakeCalendar{entries: []calendar.Entry{entryFor(old)}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 0, sum.Created)
	assert.Equal(t, 0, sum.Skipped)
	require.Len(t, cal.updated, 1)
	assert.Equal(t, engine.ContentHash(revised), cal.entries[0].ContentHash)
}

func TestRunDeletesStaleEntryInWindow(t *testing.T) {
	stale := evt("JPY", "GDP", time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), model.ImportanceMedium)
	src := &fakeSource{} // successful fetch, nothing upcoming
	cal := &fakeCalendar{entries: []calendar.Entry{entryFor(stale)}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Deleted)
	assert.Empty(t, cal.entries)
}

func TestRunLeavesOutOfWindowEntriesAlone(t *testing.T) {
	past := evt("USD", "Retail Sales", runNow.Add(-48*time.Hour), model.ImportanceHigh)
	beyond := evt("USD", "FOMC", runNow.Add(5*7*24*time.Hour), model.ImportanceHigh)
	src := &fakeSource{}
	cal := &fakeCalendar{entries: []calendar.Entry{entryFor(past), entryFor(beyond)}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 0, sum.Deleted)
	assert.Len(t, cal.entries, 2)
}

func TestRunIsIdempotent(t *testing.T) {
	events := []model.Event{
		evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh),
		evt("JPY", "GDP", time.Date(2024, 6, 11, 0, 50, 0, 0, time.UTC), model.ImportanceMedium),
	}
	src := &fakeSource{events: events}
	cal := &fakeCalendar{}
	eng := newEngine(src, cal)

	first := eng.Run(context.Background(), testConfig())
	require.NoError(t, first.FatalErr)
	assert.Equal(t, 2, first.Created)

	second := eng.Run(context.Background(), testConfig())
	require.NoError(t, second.FatalErr)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 2, cal.createAttempts)
}

func TestRunContinuesAfterItemFailure(t *testing.T) {
	a := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	b := evt("JPY", "GDP", time.Date(2024, 6, 11, 0, 50, 0, 0, time.UTC), model.ImportanceMedium)
	src := &fakeSource{events: []model.Event{a, b}}
	cal := &fakeCalendar{
		createErr: map[string]error{
			engine.Fingerprint(a): &calendar.PermanentError{Err: errors.New("invalid payload")},
		},
	}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{engine.Fingerprint(a)}, sum.FailedKeys)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 2, cal.createAttempts)
}

func TestRunAbortsOnAuthError(t *testing.T) {
	a := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	b := evt("USD", "PPI", time.Date(2024, 6, 11, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	c := evt("USD", "NFP", time.Date(2024, 6, 12, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	src := &fakeSource{events: []model.Event{a, b, c}}
	cal := &fakeCalendar{
		createErr: map[string]error{
			engine.Fingerprint(b): &calendar.AuthError{Err: errors.New("token expired")},
		},
	}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.Error(t, sum.FatalErr)
	var authErr *calendar.AuthError
	assert.ErrorAs(t, sum.FatalErr, &authErr)
	// Plan order is by scheduled time, so a succeeded, b aborted the run
	// and c was never attempted.
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 2, cal.createAttempts)
}

func TestRunFetchErrorIsFatal(t *testing.T) {
	src := &fakeSource{err: &source.FetchError{Source: "fake", Err: errors.New("connection refused")}}
	cal := &fakeCalendar{entries: []calendar.Entry{
		entryFor(evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)),
	}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.Error(t, sum.FatalErr)
	var fetchErr *source.FetchError
	assert.ErrorAs(t, sum.FatalErr, &fetchErr)
	// No calendar access at all: the stale-looking entry survives.
	assert.Equal(t, 0, cal.listCalls)
	assert.Len(t, cal.entries, 1)
}

func TestRunListAuthErrorIsFatal(t *testing.T) {
	src := &fakeSource{events: []model.Event{
		evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh),
	}}
	cal := &fakeCalendar{listErr: &calendar.AuthError{Err: errors.New("invalid credentials")}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.Error(t, sum.FatalErr)
	var authErr *calendar.AuthError
	assert.ErrorAs(t, sum.FatalErr, &authErr)
	assert.Equal(t, 0, cal.createAttempts)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	ev := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	stale := evt("JPY", "GDP", time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), model.ImportanceMedium)
	src := &fakeSource{events: []model.Event{ev}}
	cal := &fakeCalendar{entries: []calendar.Entry{entryFor(stale)}}

	cfg := testConfig()
	cfg.DryRun = true
	sum := newEngine(src, cal).Run(context.Background(), cfg)

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 0, cal.createAttempts)
	assert.Empty(t, cal.deleted)
	assert.Len(t, cal.entries, 1)
}

func TestRunFiltersBelowMinImportance(t *testing.T) {
	low := evt("USD", "Crude Oil Inventories", time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC), model.ImportanceLow)
	src := &fakeSource{events: []model.Event{low}}
	cal := &fakeCalendar{}

	cfg := testConfig()
	cfg.MinImportance = model.ImportanceHigh
	sum := newEngine(src, cal).Run(context.Background(), cfg)

	require.NoError(t, sum.FatalErr)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, 0, sum.Desired)
	assert.Equal(t, 0, cal.createAttempts)
}

func TestRunCleansDuplicateManagedEntries(t *testing.T) {
	ev := evt("USD", "CPI", time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC), model.ImportanceHigh)
	dup1 := entryFor(ev)
	dup1.ID = "dup-1"
	dup2 := entryFor(ev)
	dup2.ID = "dup-2"

	src := &fakeSource{events: []model.Event{ev}}
	cal := &fakeCalendar{entries: []calendar.Entry{dup1, dup2}}

	sum := newEngine(src, cal).Run(context.Background(), testConfig())

	require.NoError(t, sum.FatalErr)
	// One entry stays matched, the leftover from the interrupted run is
	// removed.
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Deleted)
	require.Len(t, cal.entries, 1)
	assert.Equal(t, "dup-2", cal.entries[0].ID)
}
