package seeker

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from YAML and JSON as a Go duration
// string, e.g. "50ms" or "1s"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("seeker.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("seeker.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ConfigError is returned for an invalid controller configuration
type ConfigError struct {
	msg string
}

func newConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{fmt.Sprintf("seeker.Config: "+format, args...)}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// Config holds the thresholds and maneuver geometry of the controller
type Config struct {
	LightThreshold    float64 `yaml:"lightThreshold" json:"lightThreshold"`       // lux; seeking ends at or above it
	DistanceThreshold float64 `yaml:"distanceThreshold" json:"distanceThreshold"` // mm; closer obstacles are avoided
	FlatnessThreshold float64 `yaml:"flatnessThreshold" json:"flatnessThreshold"` // m; altitude stddev accepted for landing
	BatteryThreshold  float64 `yaml:"batteryThreshold" json:"batteryThreshold"`   // V; below it the controller turns autonomous

	ForwardVelocity float64 `yaml:"forwardVelocity" json:"forwardVelocity"` // m/s
	StrafeVelocity  float64 `yaml:"strafeVelocity" json:"strafeVelocity"`   // m/s
	TurnRate        float64 `yaml:"turnRate" json:"turnRate"`               // deg/s, manual turns only

	SquareSide         float64 `yaml:"squareSide" json:"squareSide"`                 // m
	RelocationDistance float64 `yaml:"relocationDistance" json:"relocationDistance"` // m

	TickInterval Duration `yaml:"tickInterval" json:"tickInterval"`
	SettleTime   Duration `yaml:"settleTime" json:"settleTime"`

	// Landing site search limits. Zero disables a limit.
	MaxSiteAttempts int     `yaml:"maxSiteAttempts" json:"maxSiteAttempts"`
	CriticalBattery float64 `yaml:"criticalBattery" json:"criticalBattery"` // V
}

// DefaultConfig returns the configuration used for indoor flights
func DefaultConfig() Config {
	return Config{
		LightThreshold:     1000,
		DistanceThreshold:  220,
		FlatnessThreshold:  0.015,
		BatteryThreshold:   2.8,
		ForwardVelocity:    0.2,
		StrafeVelocity:     0.2,
		TurnRate:           360.0 / 10.0,
		SquareSide:         0.4,
		RelocationDistance: 0.4,
		TickInterval:       Duration(50 * time.Millisecond),
		SettleTime:         Duration(time.Second),
		MaxSiteAttempts:    10,
	}
}

func (c *Config) Validate() error {
	if c.LightThreshold <= 0 {
		return newConfigError("light threshold must be positive: %g", c.LightThreshold)
	}
	if c.DistanceThreshold <= 0 {
		return newConfigError("distance threshold must be positive: %g", c.DistanceThreshold)
	}
	if c.FlatnessThreshold <= 0 {
		return newConfigError("flatness threshold must be positive: %g", c.FlatnessThreshold)
	}
	if c.BatteryThreshold < 0 {
		return newConfigError("battery threshold must not be negative: %g", c.BatteryThreshold)
	}
	if c.ForwardVelocity <= 0 || c.StrafeVelocity <= 0 {
		return newConfigError("velocities must be positive: forward %g, strafe %g", c.ForwardVelocity, c.StrafeVelocity)
	}
	if c.TurnRate <= 0 {
		return newConfigError("turn rate must be positive: %g", c.TurnRate)
	}
	if c.SquareSide <= 0 {
		return newConfigError("square side must be positive: %g", c.SquareSide)
	}
	if c.RelocationDistance <= 0 {
		return newConfigError("relocation distance must be positive: %g", c.RelocationDistance)
	}
	if c.TickInterval <= 0 {
		return newConfigError("tick interval must be positive: %s", c.TickInterval)
	}
	if c.SettleTime < 0 {
		return newConfigError("settle time must not be negative: %s", c.SettleTime)
	}
	if c.MaxSiteAttempts < 0 {
		return newConfigError("max site attempts must not be negative: %d", c.MaxSiteAttempts)
	}
	if c.CriticalBattery < 0 {
		return newConfigError("critical battery must not be negative: %g", c.CriticalBattery)
	}
	if c.CriticalBattery > 0 && c.CriticalBattery >= c.BatteryThreshold {
		return newConfigError("critical battery %g must be below the battery threshold %g", c.CriticalBattery, c.BatteryThreshold)
	}

	return nil
}
