// Package telemetry provides the structured logger and Prometheus metrics.
package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/zulandar/siteyard/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// NewLogger returns a *zap.SugaredLogger writing to stdout and, when
// cfg.File is set, to a rotating file. With no explicit format the console
// encoder is used on a TTY and JSON otherwise.
func NewLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	return newLogger(cfg, os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

func newLogger(cfg config.LogConfig, stdout io.Writer, tty bool) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("telemetry: log level %q: %w", cfg.Level, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	format := cfg.Format
	if format == "" {
		format = "json"
		if tty {
			format = "console"
		}
	}
	var stdoutEnc zapcore.Encoder
	if format == "console" {
		stdoutEnc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		stdoutEnc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEnc, zapcore.AddSync(stdout), level),
	}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}
