package fconvert

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Log is the process-wide logger. Library consumers get a sane default;
// the CLI replaces it via InitLogger once configuration is loaded.
var Log = logrus.New()

// InitLogger configures the global logger from the viper keys `log_level`
// and `log_file_path` and should be called once on startup, after the
// config file (if any) has been read.
func InitLogger() error {
	var w io.Writer = os.Stderr

	logFile := viper.GetString("log_file_path")
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		w = f
	}

	levelName := viper.GetString("log_level")
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	Log = &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: level,
	}
	return nil
}
