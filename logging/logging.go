package logging

import (
	"os"

	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/RemiBp/ProofOrigin/config"
)

const loggerName = "prooforigin"

var Logger = logging.MustGetLogger(loggerName)

var (
	consoleFormat = logging.MustStringFormatter(
		`%{color}%{time:2006-01-02 15:04:05.000} %{shortfunc} %{level:.4s}%{color:reset} %{message}`,
	)
	fileFormat = logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{shortfunc} %{level:.4s} %{message}`,
	)
)

func InitLogger(cfg *config.LogConfig) {
	backends := make([]logging.Backend, 0)
	if cfg.UseConsoleLogger {
		consoleBackend := logging.NewLogBackend(os.Stdout, "", 0)
		backends = append(backends, logging.NewBackendFormatter(consoleBackend, consoleFormat))
	}
	if cfg.UseFileLogger {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxFileSizeInMB,
			MaxBackups: cfg.MaxBackupsOfLogFiles,
			MaxAge:     cfg.MaxAgeToRetainLogFilesInDays,
			Compress:   cfg.Compress,
		}
		fileBackend := logging.NewLogBackend(fileWriter, "", 0)
		backends = append(backends, logging.NewBackendFormatter(fileBackend, fileFormat))
	}
	logging.SetBackend(backends...)

	level, err := logging.LogLevel(cfg.Level)
	if err != nil {
		level = logging.INFO
	}
	logging.SetLevel(level, loggerName)
}
