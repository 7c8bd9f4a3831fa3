package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	MinThrust = 20  // %
	MaxThrust = 100 // %
)

type Config struct {
	SerialPort    string
	BaudRate      int
	TOCCache      string
	DataDirectory string

	Thrust  *int // %, motors driven directly at this power
	Hover   bool // take off and hover at hover thrust
	LogVbat bool
	Write   bool // write vbat to CSV, requires LogVbat
	Trial   *int // trial number used in the CSV file name

	TakeOffHeight float64 // m
}

func NewConfig() *Config {
	return &Config{
		SerialPort:    "/dev/ttyUSB0",
		BaudRate:      crtp.DefaultBaudRate,
		DataDirectory: "data",
		TakeOffHeight: 0.3,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		flag.Usage()
		return nil, err
	}

	return c, nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var thrust, trial int
	fs.StringVar(&c.SerialPort, "u", c.SerialPort, "Serial port of the vehicle")
	fs.IntVar(&c.BaudRate, "b", c.BaudRate, "Serial baud rate")
	fs.StringVar(&c.TOCCache, "toc-cache", "", "Directory to cache TOCs in")
	fs.StringVar(&c.DataDirectory, "d", c.DataDirectory, "Directory to write CSV files to")
	fs.IntVar(&thrust, "t", 0, fmt.Sprintf("Manually commanded thrust in percent, %d to %d", MinThrust, MaxThrust))
	fs.BoolVar(&c.Hover, "ht", false, "Take off and hover at hover thrust")
	fs.BoolVar(&c.LogVbat, "v", false, "Log battery voltage")
	fs.BoolVar(&c.Write, "w", false, "Write battery voltage to a CSV file")
	fs.IntVar(&trial, "n", 0, "Trial number, used in the CSV file name")
	fs.Float64Var(&c.TakeOffHeight, "height", c.TakeOffHeight, "Hover height in meters")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			c.Thrust = &thrust
		}
		if f.Name == "n" {
			c.Trial = &trial
		}
	})

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.SerialPort == "":
		return errors.New("serial port is required")
	case c.Write && !c.LogVbat:
		return errors.New("cannot write vbat to file without logging, pass -v along with -w")
	case c.Thrust != nil && c.Hover:
		return errors.New("only pass one of -t or -ht")
	case c.Trial != nil && c.Thrust == nil && !c.Hover:
		return errors.New("pass the -n option with either -t or -ht")
	case c.Thrust != nil && (*c.Thrust < MinThrust || *c.Thrust > MaxThrust):
		return fmt.Errorf("thrust must be between %d%% and %d%%: %d", MinThrust, MaxThrust, *c.Thrust)
	case c.Hover && (c.TakeOffHeight <= 0 || c.TakeOffHeight > 2):
		return fmt.Errorf("hover height must be in (0, 2] m: %g", c.TakeOffHeight)
	}

	return nil
}

// FileName returns the name of the vbat CSV file of the trial
func (c *Config) FileName() string {
	switch {
	case c.Trial == nil:
		return "vbat.csv"
	case c.Hover:
		return fmt.Sprintf("vbat_h_n-%d.csv", *c.Trial)
	default:
		return fmt.Sprintf("vbat_t-%d_n-%d.csv", *c.Thrust, *c.Trial)
	}
}
