// Copyright 2025 James Ross
package obs

import (
	"os"
	"strings"

	"github.com/quaydock/jobqueue/internal/config"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON zap logger at the configured level. When
// observability.log_file is set, log records are teed to a rotating file
// (via lumberjack) in addition to stdout, so long-running consumer/
// publisher/maintenance processes keep an on-disk trail.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), lvl),
	}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    orDefault(cfg.LogMaxSizeMB, 100),
			MaxBackups: orDefault(cfg.LogMaxBackups, 5),
			MaxAge:     orDefault(cfg.LogMaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), lvl))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
