// Package logging holds the process-wide logrus logger. Packages take a
// component-scoped entry at init time and main adjusts level and format
// once the CLI has been parsed.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase(os.Stderr)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}

// Configure sets the level and timestamp behaviour of the shared logger.
// An unknown level leaves the current level unchanged and is reported.
func Configure(level string, timestamps bool) error {
	base.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !timestamps,
		FullTimestamp:    timestamps,
	})
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput redirects all component loggers. Used by tests to silence or
// capture log lines.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}
