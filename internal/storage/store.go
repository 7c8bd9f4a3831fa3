// Package storage keeps a record of every flight: the session, each landing
// site evaluated during the flatness search, and notable flight events.
package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides an interface for the flight record storage operations.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession starts a new flight session and returns its identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - link: The serial port or link the vehicle is reached through
	//   - config: Optional flight configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - session: The created session, with its ID and UUID assigned
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, link string, config any) (session *Session, err error)

	// EndSession records when and how a session ended.
	EndSession(ctx context.Context, sessionID int64, outcome string) error

	// Session retrieves a session by its ID.
	Session(ctx context.Context, id int64) (session *Session, err error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// RecordSite saves the evaluation of a candidate landing site.
	RecordSite(ctx context.Context, site *SiteEvaluation) (siteID int64, err error)

	// SiteEvaluations returns the landing sites evaluated during a session, in attempt order.
	SiteEvaluations(ctx context.Context, sessionID int64) (sites []*SiteEvaluation, err error)

	// RecordEvent saves a flight event.
	RecordEvent(ctx context.Context, event *Event) (eventID int64, err error)

	// Events returns the events of a session in time order.
	Events(ctx context.Context, sessionID int64) (events []*Event, err error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
