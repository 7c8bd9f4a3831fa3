package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*SqliteStore)(nil)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error

	now func() time.Time
}

// NewSqliteStore creates a new store backed by the Sqlite database at dbPath.
// Connections are opened on first use; the schema is created with the first
// write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, link string, config any) (session *Session, err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return nil, err
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	sess := Session{
		UUID:      uuid.New(),
		StartTime: s.now(),
		Link:      link,
		Config:    fromNullString(configData),
	}

	result, err := stmt.ExecContext(ctx, sess.UUID, sess.StartTime, sess.Link, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	if sess.ID, err = result.LastInsertId(); err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
		return
	}
	return &sess, nil
}

func (s *SqliteStore) EndSession(ctx context.Context, sessionID int64, outcome string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, endSessionSQL, s.now(), outcome, sessionID)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ending session %d: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var endTime sql.NullTime
	var config, outcome sql.NullString

	if err := row.Scan(&sess.ID, &sess.UUID, &sess.StartTime, &endTime, &sess.Link, &config, &outcome); err != nil {
		return nil, err
	}

	sess.EndTime = fromNullTime(endTime)
	sess.Config = fromNullString(config)
	sess.Outcome = fromNullString(outcome)

	return &sess, nil
}

func (s *SqliteStore) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	if session, err = scanSession(stmt.QueryRowContext(ctx, id)); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
	}
	return
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *Session
		if sess, err = scanSession(rows); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) RecordSite(ctx context.Context, site *SiteEvaluation) (siteID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	if site.Timestamp.IsZero() {
		site.Timestamp = s.now()
	}

	result, err := db.ExecContext(ctx, insertSiteEvaluationSQL,
		site.SessionID,
		site.Attempt,
		site.Timestamp.UTC(),
		site.Samples,
		toNullFloat64(site.Mean),
		toNullFloat64(site.Flatness),
		site.Accepted,
	)
	if err != nil {
		err = fmt.Errorf("inserting site evaluation: %w", err)
		return
	}

	if siteID, err = result.LastInsertId(); err != nil {
		err = fmt.Errorf("getting site evaluation ID: %w", err)
		return
	}
	site.ID = siteID
	return
}

func (s *SqliteStore) SiteEvaluations(ctx context.Context, sessionID int64) (sites []*SiteEvaluation, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSiteEvaluationsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying site evaluations: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var site SiteEvaluation
		var mean, flatness sql.NullFloat64
		if err = rows.Scan(&site.ID, &site.SessionID, &site.Attempt, &site.Timestamp, &site.Samples, &mean, &flatness, &site.Accepted); err != nil {
			err = fmt.Errorf("scanning site evaluation: %w", err)
			return
		}
		site.Mean = fromNullFloat64(mean)
		site.Flatness = fromNullFloat64(flatness)
		sites = append(sites, &site)
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) RecordEvent(ctx context.Context, event *Event) (eventID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	var detail sql.NullString
	if event.Detail != "" {
		detail = sql.NullString{String: event.Detail, Valid: true}
	}

	result, err := db.ExecContext(ctx, insertEventSQL, event.SessionID, event.Timestamp.UTC(), string(event.Kind), detail)
	if err != nil {
		err = fmt.Errorf("inserting event: %w", err)
		return
	}

	if eventID, err = result.LastInsertId(); err != nil {
		err = fmt.Errorf("getting event ID: %w", err)
		return
	}
	event.ID = eventID
	return
}

func (s *SqliteStore) Events(ctx context.Context, sessionID int64) (events []*Event, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var event Event
		var kind string
		var detail sql.NullString
		if err = rows.Scan(&event.ID, &event.SessionID, &event.Timestamp, &kind, &detail); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		event.Kind = EventKind(kind)
		event.Detail = detail.String
		events = append(events, &event)
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
