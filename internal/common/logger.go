package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	logFileName   = "harvester.log"
	logFileSize   = 50 * 1024 * 1024
	logFileBackup = 5
)

// InitLogger builds the arbor logger from [logging]. Outputs are "stdout"
// (or "console") and "file". With no usable output it falls back to the console.
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	logger := arbor.NewLogger()
	writers := 0

	for _, output := range config.Logging.Output {
		switch output {
		case "stdout", "console":
			logger = logger.WithConsoleWriter(consoleWriter(timeFormat))
			writers++

		case "file":
			logsDir, err := ResolveLogDir(config)
			if err == nil {
				err = os.MkdirAll(logsDir, 0755)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
				continue
			}
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(logsDir, logFileName),
				TimeFormat: timeFormat,
				MaxSize:    logFileSize,
				MaxBackups: logFileBackup,
				TextOutput: true,
			})
			writers++
		}
	}

	if writers == 0 {
		logger = logger.WithConsoleWriter(consoleWriter(timeFormat))
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

func consoleWriter(timeFormat string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: timeFormat,
		TextOutput: true,
	}
}

// ResolveLogDir returns the configured log directory, defaulting to <exe dir>/logs
func ResolveLogDir(config *Config) (string, error) {
	if config.Logging.Dir != "" {
		return config.Logging.Dir, nil
	}
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(execPath), "logs"), nil
}

// GetLogFilePath returns the file the logger writes to, or "" without a file writer
func GetLogFilePath(logger arbor.ILogger) string {
	if logger == nil {
		return ""
	}
	return logger.GetLogFilePath()
}
