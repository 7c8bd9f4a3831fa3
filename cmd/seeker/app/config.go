package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/lightseeker/internal/crazyflie"
	"github.com/roman-kulish/lightseeker/internal/crtp"
	"github.com/roman-kulish/lightseeker/internal/motion"
	"github.com/roman-kulish/lightseeker/internal/seeker"
	"github.com/roman-kulish/lightseeker/internal/telemetry"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings" json:"settings"`
	Link      LinkConfig      `yaml:"link" json:"link"`
	Flight    FlightConfig    `yaml:"flight" json:"flight"`
	Seeker    seeker.Config   `yaml:"seeker" json:"seeker"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// LinkConfig represents the radio link settings
type LinkConfig struct {
	SerialPort string          `yaml:"serialPort" json:"serialPort"`
	BaudRate   int             `yaml:"baudRate" json:"baudRate"`
	Timeout    seeker.Duration `yaml:"timeout" json:"timeout"` // per request
	Retries    int             `yaml:"retries" json:"retries"`
	TOCCache   string          `yaml:"tocCache" json:"tocCache"` // directory, empty disables caching
	Decks      []string        `yaml:"decks" json:"decks"`       // decks required before take-off
}

// FlightConfig represents take-off and landing settings
type FlightConfig struct {
	TakeOffHeight   float64         `yaml:"takeOffHeight" json:"takeOffHeight"`     // m
	TakeOffVelocity float64         `yaml:"takeOffVelocity" json:"takeOffVelocity"` // m/s
	LandingVelocity float64         `yaml:"landingVelocity" json:"landingVelocity"` // m/s
	SetpointPeriod  seeker.Duration `yaml:"setpointPeriod" json:"setpointPeriod"`
	Hover           seeker.Duration `yaml:"hover" json:"hover"` // hover time after take-off before logging starts
}

// TelemetryConfig represents the log streams settings
type TelemetryConfig struct {
	DataDirectory string          `yaml:"dataDirectory" json:"dataDirectory"`
	Position      seeker.Duration `yaml:"position" json:"position"`
	Range         seeker.Duration `yaml:"range" json:"range"`
	Intensity     seeker.Duration `yaml:"intensity" json:"intensity"`
	Battery       seeker.Duration `yaml:"battery" json:"battery"`
	Thrust        seeker.Duration `yaml:"thrust" json:"thrust"`
}

// Period returns the logging period of a stream
func (c *TelemetryConfig) Period(stream telemetry.Stream) time.Duration {
	switch stream {
	case telemetry.Position:
		return time.Duration(c.Position)
	case telemetry.Range:
		return time.Duration(c.Range)
	case telemetry.Light:
		return time.Duration(c.Intensity)
	case telemetry.Battery:
		return time.Duration(c.Battery)
	case telemetry.Thrust:
		return time.Duration(c.Thrust)
	default:
		return 0
	}
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
}

// DefaultConfig returns the configuration used when a setting is absent from
// the configuration file
func DefaultConfig() Config {
	return Config{
		Settings: Settings{LogLevel: "INFO"},
		Link: LinkConfig{
			BaudRate: crtp.DefaultBaudRate,
			Timeout:  seeker.Duration(crazyflie.DefaultTimeout),
			Retries:  crazyflie.DefaultRetries,
			Decks:    []string{"bcFlow2"},
		},
		Flight: FlightConfig{
			TakeOffHeight:   motion.DefaultHeight,
			TakeOffVelocity: motion.DefaultVelocity,
			LandingVelocity: motion.DefaultVelocity,
			SetpointPeriod:  seeker.Duration(motion.DefaultSetpointPeriod),
			Hover:           seeker.Duration(time.Second),
		},
		Seeker: seeker.DefaultConfig(),
		Telemetry: TelemetryConfig{
			DataDirectory: "data",
			Position:      seeker.Duration(10 * time.Millisecond),
			Range:         seeker.Duration(10 * time.Millisecond),
			Intensity:     seeker.Duration(200 * time.Millisecond),
			Battery:       seeker.Duration(time.Second),
			Thrust:        seeker.Duration(time.Second),
		},
		Storage: StorageConfig{
			Enabled:       true,
			DataDirectory: "data",
		},
	}
}

// LoadConfig reads the YAML configuration file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration on top of the defaults
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Link.SerialPort == "" {
		return fmt.Errorf("link: serial port is required")
	}
	if c.Link.BaudRate <= 0 {
		return fmt.Errorf("link: baud rate must be positive: %d", c.Link.BaudRate)
	}
	if c.Link.Timeout <= 0 {
		return fmt.Errorf("link: timeout must be positive: %s", c.Link.Timeout)
	}
	if c.Link.Retries < 1 {
		return fmt.Errorf("link: retries must be at least 1: %d", c.Link.Retries)
	}

	if c.Flight.TakeOffHeight <= 0 || c.Flight.TakeOffHeight > 2 {
		return fmt.Errorf("flight: take-off height must be in (0, 2] m: %g", c.Flight.TakeOffHeight)
	}
	if c.Flight.TakeOffVelocity <= 0 || c.Flight.LandingVelocity <= 0 {
		return fmt.Errorf("flight: velocities must be positive: take-off %g, landing %g", c.Flight.TakeOffVelocity, c.Flight.LandingVelocity)
	}
	if c.Flight.SetpointPeriod <= 0 || time.Duration(c.Flight.SetpointPeriod) >= 500*time.Millisecond {
		return fmt.Errorf("flight: setpoint period must be in (0, 500ms): %s", c.Flight.SetpointPeriod)
	}
	if c.Flight.Hover < 0 {
		return fmt.Errorf("flight: hover must not be negative: %s", c.Flight.Hover)
	}

	if err := c.Seeker.Validate(); err != nil {
		return err
	}

	if c.Telemetry.DataDirectory == "" {
		return fmt.Errorf("telemetry: data directory is required")
	}
	for _, stream := range telemetry.Streams {
		if p := c.Telemetry.Period(stream); p < 10*time.Millisecond || p > 2550*time.Millisecond {
			return fmt.Errorf("telemetry: %s period must be between 10ms and 2.55s: %s", stream, p)
		}
	}

	if c.Storage.Enabled && c.Storage.DataDirectory == "" {
		return fmt.Errorf("storage: data directory is required")
	}

	return nil
}
