package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
	"github.com/roman-kulish/lightseeker/internal/crtp"
	"github.com/roman-kulish/lightseeker/internal/csvlog"
	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/seeker"
	"github.com/roman-kulish/lightseeker/internal/storage"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

const (
	storageDir  = "data"
	storageFile = "flights.sqlite"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	link, err := crtp.OpenSerial(config.Link.SerialPort, config.Link.BaudRate, crtp.WithLinkLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}

	cf := crazyflie.New(link,
		crazyflie.WithLogger(logger),
		crazyflie.WithTimeout(time.Duration(config.Link.Timeout), config.Link.Retries),
		crazyflie.WithTOCCache(config.Link.TOCCache),
	)
	defer func() {
		if closeErr := cf.Close(); closeErr != nil {
			logger.Warn("closing link failed", slog.String("error", closeErr.Error()))
		}
	}()

	if err = cf.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err = cf.CheckDecks(ctx, config.Link.Decks...); err != nil {
		return err
	}

	var recorder seeker.Recorder
	outcome := seeker.OutcomeAborted
	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Warn("closing storage failed", slog.String("error", closeErr.Error()))
			}
		}()

		session, err := store.CreateSession(ctx, config.Link.SerialPort, config)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		recorder = newSessionRecorder(store, session.ID, logger)
		logger.Info("session started", slog.String("session", session.UUID.String()))

		defer func() {
			if endErr := store.EndSession(context.WithoutCancel(ctx), session.ID, string(outcome)); endErr != nil {
				logger.Warn("ending session failed", slog.String("error", endErr.Error()))
			}
		}()
	}

	logs, err := createLogs(&config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to create logs: %w", err)
	}
	defer func() {
		if closeErr := logs.Close(); closeErr != nil {
			logger.Warn("closing logs failed", slog.String("error", closeErr.Error()))
		}
		logger.Info("telemetry logs written",
			slog.String("directory", logs.Dir()),
			slog.String("size", humanize.Bytes(uint64(logs.Bytes()))),
		)
	}()

	var mailbox telemetry.Mailbox
	var trace telemetry.Trace

	orchestrator := NewOrchestrator(cf, &mailbox, logger, WithLogs(logs), WithTrace(&trace))
	for _, stream := range telemetry.Streams {
		if err = orchestrator.CreateStream(stream, config.Telemetry.Period(stream)); err != nil {
			return err
		}
	}

	commander := motion.NewCommander(cf,
		motion.WithLogger(logger),
		motion.WithSetpointPeriod(time.Duration(config.Flight.SetpointPeriod)),
	)
	defer func() {
		if closeErr := commander.Close(); closeErr != nil {
			logger.Warn("stopping motors failed", slog.String("error", closeErr.Error()))
		}
	}()

	if err = takeOff(ctx, commander, &config.Flight, recorder); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	if err = orchestrator.Start(ctx); err != nil {
		_ = commander.Land(context.WithoutCancel(ctx), config.Flight.LandingVelocity)
		return fmt.Errorf("failed to start telemetry: %w", errors.Join(err, orchestrator.Stop(context.WithoutCancel(ctx))))
	}
	defer func() {
		if stopErr := orchestrator.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			logger.Warn("stopping telemetry failed", slog.String("error", stopErr.Error()))
		}
	}()

	fmt.Fprintln(os.Stderr, seeker.Help)

	options := []func(*seeker.Controller){
		seeker.WithLogger(logger),
		seeker.WithCommands(seeker.ReadCommands(ctx, os.Stdin, logger)),
		seeker.WithLandingVelocity(config.Flight.LandingVelocity),
	}
	if recorder != nil {
		options = append(options, seeker.WithRecorder(recorder))
	}

	controller, err := seeker.NewController(config.Seeker, commander, &mailbox, &trace, options...)
	if err != nil {
		_ = commander.Land(context.WithoutCancel(ctx), config.Flight.LandingVelocity)
		return err
	}

	result, err := controller.Run(ctx)
	outcome = result.Outcome

	attrs := []any{slog.String("outcome", string(result.Outcome)), slog.Int("sites", len(result.Sites))}
	if result.Landing != nil {
		attrs = append(attrs,
			slog.Int("attempt", result.Landing.Attempt),
			slog.Float64("flatness", result.Landing.Score.Flatness),
		)
	}
	logger.Info("flight finished", attrs...)

	return err
}

// takeOff climbs to the flight height and hovers before telemetry starts. A
// cancelled take-off lands again.
func takeOff(ctx context.Context, commander *motion.Commander, config *FlightConfig, recorder seeker.Recorder) error {
	if recorder != nil {
		recorder.RecordEvent(ctx, storage.EventTakeOff, fmt.Sprintf("height %.2f m", config.TakeOffHeight))
	}

	err := commander.TakeOff(ctx, config.TakeOffHeight, config.TakeOffVelocity)
	if err == nil {
		err = motion.Sleep(ctx, time.Duration(config.Hover))
	}
	if err == nil {
		return nil
	}

	landErr := commander.Land(context.WithoutCancel(ctx), config.LandingVelocity)
	if errors.Is(landErr, motion.ErrNotFlying) {
		landErr = nil
	}
	if ctx.Err() != nil {
		return landErr
	}

	return errors.Join(fmt.Errorf("failed to take off: %w", err), landErr)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dbPath, err := dataDirectory(config.DataDirectory)
	if err != nil {
		return nil, err
	}

	return storage.NewSqliteStore(filepath.Join(dbPath, storageFile)), nil
}

func createLogs(config *TelemetryConfig) (*csvlog.Set, error) {
	names := make([]string, len(telemetry.Streams))
	for i, stream := range telemetry.Streams {
		names[i] = stream.String()
	}

	return csvlog.OpenSet(config.DataDirectory, names...)
}

func dataDirectory(dir string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	if dir == "" {
		dir = storageDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	return dir, nil
}
