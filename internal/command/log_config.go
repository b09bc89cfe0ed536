package command

import (
	"github.com/unswei/muesli-bt-sub004/internal/config"
	"github.com/unswei/muesli-bt-sub004/internal/logging"
)

// logFlags are the logging flags shared by commands that run planners.
type logFlags struct {
	file  string
	level string
}

// resolveLogConfig resolves logging options: flag, then config (which has
// already applied environment overrides), then the logging defaults.
func resolveLogConfig(flags logFlags, s *config.Settings) logging.Options {
	opts := logging.Options{
		Level: flags.level,
		File:  flags.file,
	}
	if s == nil {
		return opts
	}
	if opts.Level == "" {
		opts.Level = s.LogLevel
	}
	if opts.File == "" {
		opts.File = s.LogFile
	}
	opts.MaxSizeMB = s.LogMaxSizeMB
	opts.MaxFiles = s.LogMaxFiles
	return opts
}
