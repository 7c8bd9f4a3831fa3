package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_site_evaluations_session ON site_evaluations (session_id, attempt);
CREATE INDEX IF NOT EXISTS idx_flight_events_session ON flight_events (session_id, timestamp);`

	insertSessionSQL = `
INSERT INTO sessions (
                      uuid,
                      start_time,
                      link,
                      config)
VALUES (?, ?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = ?,
    outcome  = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT
    id,
    uuid,
    start_time,
    end_time,
    link,
    config,
    outcome
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    uuid,
    start_time,
    end_time,
    link,
    config,
    outcome
FROM sessions
ORDER BY start_time`

	insertSiteEvaluationSQL = `
INSERT INTO site_evaluations (
                              session_id,
                              attempt,
                              timestamp,
                              samples,
                              mean,
                              flatness,
                              accepted)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectSiteEvaluationsSQL = `
SELECT
    id,
    session_id,
    attempt,
    timestamp,
    samples,
    mean,
    flatness,
    accepted
FROM site_evaluations
WHERE
    session_id = ?
ORDER BY attempt, id`

	insertEventSQL = `
INSERT INTO flight_events (
                           session_id,
                           timestamp,
                           kind,
                           detail)
VALUES (?, ?, ?, ?)`

	selectEventsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    kind,
    detail
FROM flight_events
WHERE
    session_id = ?
ORDER BY timestamp, id`
)
