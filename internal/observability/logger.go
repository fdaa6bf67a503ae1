package observability

import (
	"github.com/danmuck/atomlink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the runtime console logger at level, tagged with app,
// and returns it. ATOMLINK_LOG_* variables override level and output.
func InitLogger(app string, level zerolog.Level) zerolog.Logger {
	cfg := logging.RuntimeConfig(level)
	logging.Apply(cfg)
	if !cfg.Bypass {
		log.Logger = log.Logger.With().Str("app", app).Logger()
	}
	return log.Logger
}
