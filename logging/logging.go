// Package logging builds the zap loggers used across the library, with
// size-based file rotation for long-running installations.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level, encoding and optional rotated log file.
type Config struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // json or console
	Dir     string `yaml:"dir"`     // empty disables file output
	Stdout  bool   `yaml:"stdout"`
	MaxSize int    `yaml:"max_size"` // megabytes per rotated file
}

// New constructs a logger per cfg. With no file dir and stdout disabled it
// still logs to stderr so errors are never silently dropped.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var writers []zapcore.WriteSyncer
	if cfg.Stdout {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if cfg.Dir != "" {
		maxSize := cfg.MaxSize
		if maxSize == 0 {
			maxSize = 100
		}
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "scada.log"),
			MaxSize:    maxSize,
			MaxBackups: 3,
			MaxAge:     28, // days
		}))
	}
	if len(writers) == 0 {
		writers = append(writers, zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(writers...), level)
	return zap.New(core), nil
}
