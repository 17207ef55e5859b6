package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syncr/internal/config"
	"github.com/openmined/syncr/internal/utils"
)

var (
	logLevel = new(slog.LevelVar)
	console  slog.Handler
	logSink  *utils.LogInterceptor
	logFile  *os.File
)

func consoleHandler() slog.Handler {
	if console == nil {
		console = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}
	return console
}

// setupLogging applies the verbosity setting and adds the log file next to the
// console handler. A log file that cannot be opened only costs the file output.
func setupLogging(cfg *config.Config) {
	if cfg.Verbose {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}

	closeLogFile()

	if err := utils.EnsureParent(cfg.LogFile); err != nil {
		slog.Warn("cannot create log directory", "path", cfg.LogFile, "error", err)
		slog.SetDefault(slog.New(consoleHandler()))
		return
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("cannot open log file", "path", cfg.LogFile, "error", err)
		slog.SetDefault(slog.New(consoleHandler()))
		return
	}

	logFile = file
	logSink = utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logSink, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(), fileHandler)))
}

func closeLogFile() {
	if logSink != nil {
		_ = logSink.Close()
		logSink = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
