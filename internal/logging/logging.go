package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Configure sets the process-wide logrus level and format ("text" or "json").
// Output goes to stderr so image bytes or command output on stdout stay clean.
func Configure(level, format string) error {
	return ConfigureOutput(os.Stderr, level, format)
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	logrus.SetOutput(out)
	logrus.SetLevel(lvl)
	return nil
}
