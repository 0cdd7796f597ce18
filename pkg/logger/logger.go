package logger

import (
	"os"

	"smallbiznis-loyalty/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger and installs it as the zap global. Production
// writes JSON to stdout and, when LOG.FILE_PATH is set, to a rotated file.
func New(p ConfigParams) *zap.Logger {
	cfg := p.Cfg
	if cfg == nil {
		cfg = &config.Config{}
	}

	var log *zap.Logger
	if cfg.AppEnv == "production" {
		log = zap.New(productionCore(cfg), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		dev := zap.NewDevelopmentConfig()
		dev.Level = zap.NewAtomicLevelAt(level(cfg.Log.Level, zapcore.DebugLevel))
		log = zap.Must(dev.Build())
	}

	log = log.With(
		zap.String("env", cfg.AppEnv),
		zap.String("service_name", cfg.AppName),
	)
	zap.ReplaceGlobals(log)
	return log
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.StacktraceKey = "stacktrace"
	ec.LevelKey = "severity"
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return ec
}

func productionCore(cfg *config.Config) zapcore.Core {
	enc := zapcore.NewJSONEncoder(encoderConfig())
	lvl := zap.NewAtomicLevelAt(level(cfg.Log.Level, zapcore.InfoLevel))

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	if w := fileWriter(cfg); w != nil {
		core = zapcore.NewTee(core, zapcore.NewCore(enc.Clone(), w, lvl))
	}
	return core
}

// fileWriter is nil when file output is disabled.
func fileWriter(cfg *config.Config) zapcore.WriteSyncer {
	if cfg.Log.FilePath == "" {
		return nil
	}
	maxSize := cfg.Log.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Log.FilePath,
		MaxSize:    maxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
}

func level(s string, fallback zapcore.Level) zapcore.Level {
	if s == "" {
		return fallback
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return fallback
	}
	return lvl
}
