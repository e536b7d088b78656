// Package engine implements the reconciliation between fetched economic
// events and the managed entries on the remote calendar.
//
// A run is a single sequential batch: fetch, filter, list, diff, apply.
// State lives entirely in the remote calendar (fingerprint and content
// hash on each managed entry), so runs are stateless between invocations
// and idempotent: re-running with unchanged source data produces only
// Skip actions.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eisei-komiya/econ-cal-sync/internal/calendar"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
	"github.com/eisei-komiya/econ-cal-sync/internal/source"
)

// Config selects what one run cares about. It is passed in explicitly at
// every invocation; the engine reads no global state.
type Config struct {
	// Currencies is the target currency-code set.
	Currencies []string

	// MinImportance is the lowest importance level to sync.
	MinImportance model.Importance

	// WindowWeeks is how many weeks ahead the sync window extends.
	WindowWeeks int

	// DryRun computes and logs the plan without touching the calendar.
	DryRun bool
}

// Summary is the outcome of one run.
type Summary struct {
	RunID  string
	Source string

	Fetched  int // raw events from the source
	Desired  int // after filter + dedup
	Observed int // managed entries listed from the calendar

	Created int
	Updated int
	Deleted int
	Skipped int
	Failed  int

	// FailedKeys lists the fingerprints of per-item failures.
	FailedKeys []string

	// FatalErr is set when the run aborted: fetch failure, list failure,
	// auth failure or cancellation. Per-item failures never set it.
	FatalErr error

	Started  time.Time
	Duration time.Duration
}

// Engine reconciles one source against one calendar.
type Engine struct {
	source   source.Source
	calendar calendar.Client
	now      func() time.Time
}

func New(src source.Source, cal calendar.Client) *Engine {
	return &Engine{source: src, calendar: cal, now: time.Now}
}

// WithClock replaces the engine's clock. Tests pin it to get stable
// windows and fingerprints.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run executes one reconciliation pass. The returned Summary always
// carries the full counts; FatalErr reports run-level failure.
func (e *Engine) Run(ctx context.Context, cfg Config) (sum Summary) {
	started := time.Now()
	defer func() { sum.Duration = time.Since(started) }()

	now := e.now().UTC()
	from, to := window(now, cfg.WindowWeeks)

	sum.RunID = uuid.NewString()
	sum.Source = e.source.Name()
	sum.Started = now

	appLog.Info("sync run start",
		"run_id", sum.RunID,
		"source", sum.Source,
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"dry_run", cfg.DryRun,
	)

	raw, err := e.source.Fetch(ctx, from, to)
	if err != nil {
		sum.FatalErr = err
		return sum
	}
	sum.Fetched = len(raw)

	desired := Filter(raw, cfg, now)
	sum.Desired = len(desired)

	observed, err := e.calendar.ListManaged(ctx, from, to)
	if err != nil {
		sum.FatalErr = err
		return sum
	}
	sum.Observed = len(observed)

	plan := buildPlan(desired, observed, from, to)
	e.apply(ctx, plan, cfg.DryRun, &sum)

	appLog.Info("sync run done",
		"run_id", sum.RunID,
		"created", sum.Created,
		"updated", sum.Updated,
		"deleted", sum.Deleted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum
}

type actionKind int

const (
	actionCreate actionKind = iota
	actionUpdate
	actionDelete
	actionSkip
)

func (k actionKind) String() string {
	switch k {
	case actionCreate:
		return "create"
	case actionUpdate:
		return "update"
	case actionDelete:
		return "delete"
	default:
		return "skip"
	}
}

// action is one planned step. event/hash are set for create and update,
// entryID for update and delete. at orders the plan.
type action struct {
	kind        actionKind
	fingerprint string
	hash        string
	event       model.Event
	entryID     string
	at          time.Time
}

// buildPlan diffs desired events against the observed managed entries.
//
// Matching runs against the full observed index so that an entry just
// outside the window edge (e.g. an ongoing all-day entry) is still
// recognized rather than duplicated. Deletes, by contrast, are bounded to
// [from, to): stale entries outside the window are left untouched.
func buildPlan(desired []model.Event, observed []calendar.Entry, from, to time.Time) []action {
	index := make(map[string]calendar.Entry, len(observed))
	for _, en := range observed {
		index[en.Fingerprint] = en
	}

	plan := make([]action, 0, len(desired)+len(observed))
	for _, ev := range desired {
		fp := Fingerprint(ev)
		hash := ContentHash(ev)
		en, ok := index[fp]
		switch {
		case !ok:
			plan = append(plan, action{kind: actionCreate, fingerprint: fp, hash: hash, event: ev, at: ev.ScheduledAt})
		case en.ContentHash == hash:
			plan = append(plan, action{kind: actionSkip, fingerprint: fp, at: ev.ScheduledAt})
		default:
			plan = append(plan, action{kind: actionUpdate, fingerprint: fp, hash: hash, event: ev, entryID: en.ID, at: ev.ScheduledAt})
		}
	}

	desiredKeys := make(map[string]bool, len(desired))
	for _, ev := range desired {
		desiredKeys[Fingerprint(ev)] = true
	}
	for _, en := range observed {
		// The indexed entry for a desired key survives; any further entry
		// with the same fingerprint is drift from an interrupted run and
		// gets cleaned up like a stale one.
		if desiredKeys[en.Fingerprint] && index[en.Fingerprint].ID == en.ID {
			continue
		}
		if en.Start.Before(from) || !en.Start.Before(to) {
			continue
		}
		plan = append(plan, action{kind: actionDelete, fingerprint: en.Fingerprint, entryID: en.ID, at: en.Start})
	}

	sort.Slice(plan, func(i, j int) bool {
		if !plan[i].at.Equal(plan[j].at) {
			return plan[i].at.Before(plan[j].at)
		}
		return plan[i].fingerprint < plan[j].fingerprint
	})
	return plan
}

// apply walks the plan sequentially. One item failing is recorded and the
// run continues; an auth failure aborts, because it would fail every
// remaining call the same way.
func (e *Engine) apply(ctx context.Context, plan []action, dryRun bool, sum *Summary) {
	for _, act := range plan {
		if ctx.Err() != nil {
			sum.FatalErr = ctx.Err()
			return
		}

		if act.kind == actionSkip {
			sum.Skipped++
			continue
		}

		if dryRun {
			appLog.Info("dry-run: planned action", "action", act.kind.String(), "fingerprint", act.fingerprint)
			sum.count(act.kind)
			continue
		}

		var err error
		switch act.kind {
		case actionCreate:
			_, err = e.calendar.Create(ctx, act.event, act.fingerprint, act.hash)
		case actionUpdate:
			err = e.calendar.Update(ctx, act.entryID, act.event, act.hash)
		case actionDelete:
			err = e.calendar.Delete(ctx, act.entryID)
		}

		if err != nil {
			var authErr *calendar.AuthError
			if errors.As(err, &authErr) {
				appLog.Error("sync aborted: calendar auth failed", err, "run_id", sum.RunID, "fingerprint", act.fingerprint)
				sum.FatalErr = err
				return
			}
			sum.Failed++
			sum.FailedKeys = append(sum.FailedKeys, act.fingerprint)
			appLog.Error("sync action failed", err, "action", act.kind.String(), "fingerprint", act.fingerprint)
			continue
		}

		sum.count(act.kind)
		appLog.Info("sync action applied", "action", act.kind.String(), "fingerprint", act.fingerprint)
	}
}

func (s *Summary) count(k actionKind) {
	switch k {
	case actionCreate:
		s.Created++
	case actionUpdate:
		s.Updated++
	case actionDelete:
		s.Deleted++
	case actionSkip:
		s.Skipped++
	}
}
