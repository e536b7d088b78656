// Package calendar talks to the remote calendar holding the synced
// entries. The engine only sees the Client interface; the Google
// implementation lives in google.go.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

// Entry is a managed calendar entry as observed remotely: the engine's
// metadata plus the entry's start time. Remote entries without the
// management marker never surface here.
type Entry struct {
	ID          string
	Fingerprint string
	ContentHash string
	Start       time.Time
}

// Client is the calendar surface the engine reconciles against. Every
// write attaches or refreshes the management marker, fingerprint and
// content hash so the remote calendar remains the sole record of sync
// state.
type Client interface {
	// ListManaged returns all managed entries overlapping [from, to).
	ListManaged(ctx context.Context, from, to time.Time) ([]Entry, error)

	// Create inserts a new managed entry and returns its id.
	Create(ctx context.Context, ev model.Event, fingerprint, contentHash string) (string, error)

	// Update patches an existing entry's fields and content hash. The
	// fingerprint is identity and never changes on update.
	Update(ctx context.Context, entryID string, ev model.Event, contentHash string) error

	// Delete removes a managed entry. Deleting an already-gone entry is
	// not an error.
	Delete(ctx context.Context, entryID string) error
}

// AuthError means the calendar credentials are invalid or expired. It is
// fatal for the whole run: every remaining call would fail the same way.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("calendar auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TransientError is a rate limit or server-side failure on a single call.
// Callers retry it with backoff up to a bounded attempt count.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("calendar transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a non-retryable rejection of a single item (e.g. a
// malformed payload). It fails that item only; the run continues.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("calendar permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }
