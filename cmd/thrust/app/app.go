package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
	"github.com/roman-kulish/lightseeker/internal/crtp"
	"github.com/roman-kulish/lightseeker/internal/csvlog"
	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/seeker"
)

const (
	logPeriod   = time.Second
	spinUp      = 3 * time.Second // before battery logging starts
	paramPause  = 10 * time.Millisecond
	maxMotorPWM = math.MaxUint16

	pilotVelocity = 0.1  // m/s
	pilotTurnRate = 36.0 // deg/s
)

const pilotHelp = "w,s,a,d: move; q,e: turn; f: stop; z: land"

var motors = []string{"motorPowerSet.m1", "motorPowerSet.m2", "motorPowerSet.m3", "motorPowerSet.m4"}

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	link, err := crtp.OpenSerial(config.SerialPort, config.BaudRate, crtp.WithLinkLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}

	cf := crazyflie.New(link, crazyflie.WithLogger(logger), crazyflie.WithTOCCache(config.TOCCache))
	defer func() {
		if closeErr := cf.Close(); closeErr != nil {
			logger.Warn("closing link failed", slog.String("error", closeErr.Error()))
		}
	}()

	if err = cf.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	logger.Info("connected", slog.String("port", config.SerialPort))

	var battery *batteryLog
	if config.LogVbat {
		if battery, err = newBatteryLog(cf, config, logger); err != nil {
			return err
		}
		defer battery.Close(context.WithoutCancel(ctx))
	}

	switch {
	case config.Thrust != nil:
		return runThrust(ctx, cf, *config.Thrust, battery, logger)
	case config.Hover:
		return runHover(ctx, cf, config, battery, logger)
	default:
		if err = battery.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

// runThrust drives the motors directly until ctx is done
func runThrust(ctx context.Context, cf *crazyflie.Crazyflie, thrust int, battery *batteryLog, logger *slog.Logger) (err error) {
	// a zero setpoint unlocks the firmware thrust protection
	if err = cf.SendLegacy(0, 0, 0, 0); err != nil {
		return fmt.Errorf("unlocking thrust: %w", err)
	}
	if err = motion.Sleep(ctx, 100*time.Millisecond); err != nil {
		return nil
	}

	defer func() {
		logger.Info("turning off motors")
		err = errors.Join(err, setMotorPower(context.WithoutCancel(ctx), cf, 0))
	}()

	logger.Info("sending thrust", slog.Int("percent", thrust))
	if err = setMotorPower(ctx, cf, PWM(thrust)); err != nil {
		return err
	}

	if motion.Sleep(ctx, spinUp) != nil {
		return nil
	}
	if err = battery.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// runHover takes off and flies by operator commands until the operator lands
// or ctx is done, then reports the average hover thrust
func runHover(ctx context.Context, cf *crazyflie.Crazyflie, config *Config, battery *batteryLog, logger *slog.Logger) (err error) {
	block, err := cf.NewLogBlock("thrust", logPeriod, "stabilizer.thrust")
	if err != nil {
		return err
	}

	commander := motion.NewCommander(cf, motion.WithLogger(logger))
	defer func() {
		err = errors.Join(err, commander.Close())
	}()

	logger.Info("taking off at hover thrust", slog.Float64("height", config.TakeOffHeight))
	if err = commander.TakeOff(ctx, config.TakeOffHeight, 0); err != nil {
		if ctx.Err() != nil {
			err = nil
		}
		return errors.Join(err, land(ctx, commander))
	}

	if motion.Sleep(ctx, spinUp) != nil {
		return land(ctx, commander)
	}

	var samples hoverThrust
	var wg sync.WaitGroup
	collectCtx, stopCollecting := context.WithCancel(context.WithoutCancel(ctx))
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-collectCtx.Done():
				return
			case rec, ok := <-block.Records():
				if !ok {
					return
				}
				samples.Add(rec.Values["stabilizer.thrust"])
			}
		}
	}()

	if err = errors.Join(battery.Start(ctx), block.Start(ctx)); err == nil {
		fmt.Fprintln(os.Stderr, pilotHelp)
		pilot(ctx, commander, seeker.ReadCommands(ctx, os.Stdin, logger), logger)
	}

	err = errors.Join(err, block.Stop(context.WithoutCancel(ctx)))
	stopCollecting()
	wg.Wait()
	logger.Info("stopped logging thrust")

	err = errors.Join(err, land(ctx, commander))

	if percent, ok := samples.Percent(); ok {
		logger.Info("average hover thrust", slog.String("percent", fmt.Sprintf("%.2f%%", percent)), slog.Int("samples", samples.Len()))
	} else {
		logger.Warn("no hover thrust samples received")
	}

	return err
}

// pilot applies operator commands until land is commanded or ctx is done
func pilot(ctx context.Context, p seeker.Pilot, commands <-chan seeker.Command, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}

			switch cmd {
			case seeker.CommandLand:
				if err := p.Stop(); err != nil {
					logger.Warn("stopping failed", slog.String("error", err.Error()))
				}
				return
			case seeker.CommandSeek:
				logger.Warn("command not available while hovering", slog.String("command", cmd.String()))
				continue
			}

			if err := seeker.Apply(p, cmd, pilotVelocity, pilotTurnRate); err != nil {
				logger.Warn(fmt.Sprintf("applying %s: %s", cmd, err.Error()))
			}
		}
	}
}

func land(ctx context.Context, commander *motion.Commander) error {
	err := commander.Land(context.WithoutCancel(ctx), 0)
	if errors.Is(err, motion.ErrNotFlying) {
		return nil
	}
	return err
}

// PWM converts a thrust percentage to a motor power value
func PWM(percent int) uint16 {
	return uint16(percent * maxMotorPWM / 100)
}

func setMotorPower(ctx context.Context, cf *crazyflie.Crazyflie, power uint16) error {
	for _, motor := range motors {
		if err := cf.SetParam(ctx, motor, float64(power)); err != nil {
			return fmt.Errorf("setting motor power: %w", err)
		}
		if err := motion.Sleep(ctx, paramPause); err != nil {
			return err
		}
	}

	enable := 0.0
	if power > 0 {
		enable = 1
	}
	if err := cf.SetParam(ctx, "motorPowerSet.enable", enable); err != nil {
		return fmt.Errorf("setting motor power: %w", err)
	}

	return nil
}

// hoverThrust accumulates raw thrust samples
type hoverThrust struct {
	samples []float64
}

func (h *hoverThrust) Add(thrust float64) {
	h.samples = append(h.samples, thrust)
}

func (h *hoverThrust) Len() int {
	return len(h.samples)
}

// Percent returns the mean thrust as a percentage of full motor power
func (h *hoverThrust) Percent() (float64, bool) {
	if len(h.samples) == 0 {
		return 0, false
	}
	return stat.Mean(h.samples, nil) * 100 / maxMotorPWM, true
}

// batteryLog prints battery voltage records and optionally writes them to a
// CSV file. A nil batteryLog does nothing.
type batteryLog struct {
	block  *crazyflie.LogBlock
	csv    *csvlog.Log
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newBatteryLog(cf *crazyflie.Crazyflie, config *Config, logger *slog.Logger) (*batteryLog, error) {
	block, err := cf.NewLogBlock("vbat", logPeriod, "pm.vbat")
	if err != nil {
		return nil, err
	}

	b := batteryLog{block: block, logger: logger}
	if config.Write {
		if err = os.MkdirAll(config.DataDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		if b.csv, err = csvlog.Open(filepath.Join(config.DataDirectory, config.FileName())); err != nil {
			return nil, err
		}
	}

	return &b, nil
}

func (b *batteryLog) Start(ctx context.Context) error {
	if b == nil {
		return nil
	}

	var collectCtx context.Context
	collectCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	b.wg.Add(1)
	go b.collect(collectCtx)

	return b.block.Start(ctx)
}

func (b *batteryLog) collect(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-b.block.Records():
			if !ok {
				return
			}

			vbat := rec.Values["pm.vbat"]
			b.logger.Info("battery", slog.Uint64("timestamp", uint64(rec.Timestamp)), slog.Float64("vbat", vbat))
			if b.csv == nil {
				continue
			}
			if err := b.csv.Write(rec.Timestamp, vbat); err != nil {
				b.logger.Error(err.Error())
			}
		}
	}
}

func (b *batteryLog) Close(ctx context.Context) {
	if b == nil {
		return
	}

	if err := b.block.Stop(ctx); err != nil {
		b.logger.Warn("stopping battery log failed", slog.String("error", err.Error()))
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("stopped logging vbat")

	if b.csv == nil {
		return
	}
	if err := b.csv.Close(); err != nil {
		b.logger.Warn("closing vbat file failed", slog.String("error", err.Error()))
		return
	}
	b.logger.Info("closed the csv file", slog.String("path", b.csv.Path()), slog.String("size", humanize.Bytes(uint64(b.csv.Bytes()))))
}
