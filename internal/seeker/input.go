package seeker

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"unicode"
)

// ReadCommands reads operator keys from r, one or more per line, and delivers
// them as commands. The channel is closed at EOF or once ctx is done.
func ReadCommands(ctx context.Context, r io.Reader, logger *slog.Logger) <-chan Command {
	commands := make(chan Command)

	go func() {
		defer close(commands)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			for _, key := range strings.TrimSpace(scanner.Text()) {
				if unicode.IsSpace(key) {
					continue
				}

				cmd, ok := ParseCommand(string(unicode.ToLower(key)))
				if !ok {
					logger.Warn("unknown command", slog.String("key", string(key)))
					continue
				}

				select {
				case commands <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Error("reading commands failed", slog.String("error", err.Error()))
		}
	}()

	return commands
}
