package utils

import (
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

var logger logr.Logger = logr.Discard()

// InitLogger sets up the process-wide logger. Higher verbosity means more
// logs; 0 only shows info and errors.
func InitLogger(verbosity int) logr.Logger {
	zerologr.SetMaxV(verbosity)
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	logger = zerologr.New(&zl)
	return logger
}

func Log() logr.Logger {
	return logger
}
