package app

import (
	"context"
	"log/slog"

	"github.com/roman-kulish/lightseeker/internal/seeker"
	"github.com/roman-kulish/lightseeker/internal/storage"
)

// sessionRecorder keeps the flight record of a session in the store. Records
// are written even after the flight context is cancelled, so the landing of an
// aborted flight is on record.
type sessionRecorder struct {
	store     storage.Store
	sessionID int64
	logger    *slog.Logger
}

func newSessionRecorder(store storage.Store, sessionID int64, logger *slog.Logger) *sessionRecorder {
	return &sessionRecorder{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
	}
}

func (r *sessionRecorder) RecordSite(ctx context.Context, site seeker.Site) {
	eval := storage.SiteEvaluation{
		SessionID: r.sessionID,
		Attempt:   site.Attempt,
		Samples:   site.Score.Samples,
		Accepted:  site.Accepted,
	}
	if site.Scored {
		mean, flatness := site.Score.Mean, site.Score.Flatness
		eval.Mean = &mean
		eval.Flatness = &flatness
	}

	if _, err := r.store.RecordSite(context.WithoutCancel(ctx), &eval); err != nil {
		r.logger.Warn("recording site evaluation failed", slog.Int("attempt", site.Attempt), slog.String("error", err.Error()))
	}
}

func (r *sessionRecorder) RecordEvent(ctx context.Context, kind storage.EventKind, detail string) {
	event := storage.Event{
		SessionID: r.sessionID,
		Kind:      kind,
		Detail:    detail,
	}

	if _, err := r.store.RecordEvent(context.WithoutCancel(ctx), &event); err != nil {
		r.logger.Warn("recording event failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
}
