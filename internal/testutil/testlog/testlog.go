package testlog

import (
	"testing"

	"github.com/danmuck/renodectl/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}

// Logf mirrors t.Logf into the process logger so test narration lands in one stream.
func Logf(t *testing.T, format string, args ...any) {
	t.Helper()
	t.Logf(format, args...)
	log.Debug().Msgf(format, args...)
}
