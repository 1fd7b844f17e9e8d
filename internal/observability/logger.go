package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT. The
// shared helper also installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "aqi-updater")
}
