package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
)

const listPageSize = 250

// GoogleClient implements Client against the Google Calendar API, with a
// token-bucket rate limiter and bounded retries on transient failures.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	opts       Options

	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

var _ Client = (*GoogleClient)(nil)

// NewGoogle builds an authenticated client from a service-account key,
// read from cfg.CredentialsFile or inline from GOOGLE_SA_JSON.
func NewGoogle(ctx context.Context, cfg config.CalendarConfig) (*GoogleClient, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar_id not configured (set GOOGLE_CALENDAR_ID)")
	}

	keyJSON, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, keyJSON, gcal.CalendarScope)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("parse service-account key: %w", err)}
	}
	svc, err := gcal.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, err
	}

	return &GoogleClient{
		svc:        svc,
		calendarID: cfg.CalendarID,
		opts: Options{
			Timezone:        cfg.Timezone,
			EventDuration:   time.Duration(cfg.EventDurationMinutes) * time.Minute,
			ReminderMinutes: cfg.ReminderMinutes,
			CountryFlags:    cfg.CountryFlags,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
	}, nil
}

func credentialsJSON(cfg config.CalendarConfig) ([]byte, error) {
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		return data, nil
	}
	if v := os.Getenv("GOOGLE_SA_JSON"); v != "" {
		return []byte(v), nil
	}
	return nil, errors.New("no credentials: set calendar.credentials_file or GOOGLE_SA_JSON")
}

// ListManaged pages through all entries in [from, to) carrying the
// management marker. Marked entries whose metadata cannot be read are
// logged and skipped; they will be reconciled once repaired by hand.
func (c *GoogleClient) ListManaged(ctx context.Context, from, to time.Time) ([]Entry, error) {
	entries := make([]Entry, 0)
	pageToken := ""
	for {
		call := c.svc.Events.List(c.calendarID).
			TimeMin(from.UTC().Format(time.RFC3339)).
			TimeMax(to.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(false).
			PrivateExtendedProperty(propManaged + "=" + managedValue).
			MaxResults(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var page *gcal.Events
		err := c.doCall(ctx, "list", func() error {
			resp, err := call.Do()
			if err != nil {
				return err
			}
			page = resp
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			entry, ok := entryFromItem(item)
			if !ok {
				appLog.Warn("managed entry with unreadable metadata skipped", "entry_id", item.Id)
				continue
			}
			entries = append(entries, entry)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return entries, nil
}

func (c *GoogleClient) Create(ctx context.Context, ev model.Event, fingerprint, contentHash string) (string, error) {
	body := buildBody(ev, fingerprint, contentHash, c.opts)

	var created *gcal.Event
	err := c.doCall(ctx, "insert", func() error {
		resp, err := c.svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = resp
		return nil
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *GoogleClient) Update(ctx context.Context, entryID string, ev model.Event, contentHash string) error {
	body := buildBody(ev, "", contentHash, c.opts)
	// Patch merges private properties per key; the fingerprint already on
	// the entry is identity and stays untouched.
	body.ExtendedProperties.Private = map[string]string{
		propManaged: managedValue,
		propHash:    contentHash,
	}

	return c.doCall(ctx, "patch", func() error {
		_, err := c.svc.Events.Patch(c.calendarID, entryID, body).Context(ctx).Do()
		return err
	})
}

func (c *GoogleClient) Delete(ctx context.Context, entryID string) error {
	err := c.doCall(ctx, "delete", func() error {
		return c.svc.Events.Delete(c.calendarID, entryID).Context(ctx).Do()
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			// Already gone; the calendar converged without us.
			return nil
		}
		return err
	}
	return nil
}

func entryFromItem(item *gcal.Event) (Entry, bool) {
	if item.ExtendedProperties == nil || item.ExtendedProperties.Private == nil {
		return Entry{}, false
	}
	priv := item.ExtendedProperties.Private
	if priv[propManaged] != managedValue || priv[propFingerprint] == "" {
		return Entry{}, false
	}
	start, err := parseEntryStart(item.Start)
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		ID:          item.Id,
		Fingerprint: priv[propFingerprint],
		ContentHash: priv[propHash],
		Start:       start,
	}, true
}

func parseEntryStart(edt *gcal.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, errors.New("entry has no start")
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		return t.UTC(), err
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		return t.UTC(), err
	}
	return time.Time{}, errors.New("entry start has neither date nor dateTime")
}
