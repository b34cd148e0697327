package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaywire/internal/logging"
)

// InitLogger installs the process logger for app, tagged with the app name
// and built from cfg.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	logger := logging.Apply(cfg).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Component returns a child logger for one subsystem.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
