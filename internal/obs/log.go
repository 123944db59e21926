package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   zerolog.Logger
	initOnce sync.Once
)

func initLogger() {
	initOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.TimestampFieldName = "ts"
		zerolog.MessageFieldName = "msg"
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", ServiceName).Logger()
	})
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	initLogger()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetOutput redirects the shared logger, returning a func that restores the
// previous writer.
func SetOutput(w io.Writer) (restore func()) {
	initLogger()
	loggerMu.Lock()
	prev := logger
	logger = logger.Output(w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// SetLevel adjusts the minimum level of the shared logger.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	initLogger()
	loggerMu.Lock()
	logger = logger.Level(lvl)
	loggerMu.Unlock()
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(status int, entry map[string]any) {
	l := Logger()
	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = l.Error()
	case status >= 400:
		ev = l.Warn()
	default:
		ev = l.Info()
	}
	ev.Fields(entry).Msg("http request completed")
}
