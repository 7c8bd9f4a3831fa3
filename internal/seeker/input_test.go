package seeker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadCommands(t *testing.T) {
	input := "w\n a d \nQx\n\nez\n"

	var got []Command
	for cmd := range ReadCommands(context.Background(), strings.NewReader(input), discardLogger()) {
		got = append(got, cmd)
	}

	assert.Equal(t, []Command{
		CommandForward,
		CommandLeft,
		CommandRight,
		CommandTurnLeft,
		CommandTurnRight,
		CommandLand,
	}, got)
}

func TestReadCommands_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	commands := ReadCommands(ctx, strings.NewReader("wwww\n"), discardLogger())

	assert.Equal(t, CommandForward, <-commands)
	cancel()

	for range commands {
	}
}
