// Package logging configures the process-wide logger. Subsystems obtain a
// module-tagged entry via Module and never construct their own loggers.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newLogger()

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return log
}

// SetLevel adjusts the verbosity of the process-wide logger. Unparsable
// names keep the current level.
func SetLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		root.WithField("level", name).Warn("unknown log level")
		return
	}
	root.SetLevel(level)
}

// Module returns a logger entry tagged with the given subsystem name.
func Module(name string) *logrus.Entry {
	return root.WithField("module", name)
}
