// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// Setup sets the level and formatter of the standard logger. Timestamps
// are dropped when stderr is not a terminal, since the supervisor adds them.
func Setup(level string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.StandardLogger()
	logger.SetLevel(lvl)
	if out != nil {
		logger.SetOutput(out)
	}
	if !isTerminal(out) {
		logger.Formatter = &log.TextFormatter{DisableTimestamp: true}
	}
	return nil
}

func isTerminal(out io.Writer) bool {
	if out == nil {
		out = os.Stderr
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
