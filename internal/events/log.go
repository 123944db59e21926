package events

import (
	"context"

	"loginshield.io/internal/obs"
)

// LogSink writes events to the service log. Used when no broker is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, key string, payload []byte) error {
	obs.Logger().Info().
		Str("topic", Topic).
		Str("key", key).
		RawJSON("event", payload).
		Msg("login event")
	return nil
}

func (LogSink) Close() error { return nil }
