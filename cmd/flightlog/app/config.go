package app

import (
	"errors"
	"flag"
	"os"
)

type Config struct {
	DBPath    string
	SessionID int64 // zero lists every session
	Verbose   bool  // include the flight configuration
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
	var c Config
	fs.StringVar(&c.DBPath, "db", "data/flights.sqlite", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 0, "Session ID, lists sessions when omitted")
	fs.BoolVar(&c.Verbose, "verbose", false, "Print the flight configuration of the session")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID < 0 {
		err = errors.New("invalid session id")
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}
