package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var once sync.Once

var logger *zap.SugaredLogger

// Get initializes the process wide zap.SugaredLogger on first use and returns
// the same instance afterwards. LOG_LEVEL picks the level and a non-empty
// JSON_LOG switches to the JSON encoder.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		level := zap.InfoLevel
		if levelEnv := os.Getenv("LOG_LEVEL"); levelEnv != "" {
			parsed, err := zapcore.ParseLevel(levelEnv)
			if err != nil {
				log.Println(fmt.Errorf("invalid level, defaulting to INFO: %w", err))
			} else {
				level = parsed
			}
		}

		logger = New(zapcore.AddSync(os.Stdout), level, os.Getenv("JSON_LOG") != "")
	})

	return logger
}

// New builds a logger writing to w. It is split out of Get so commands and
// tests can build one without touching the process wide instance.
func New(w zapcore.WriteSyncer, level zapcore.Level, json bool) *zap.SugaredLogger {
	encoder := zapcore.NewConsoleEncoder(developmentEncoderConfig())
	if json {
		encoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	}

	core := zapcore.NewCore(encoder, w, zap.NewAtomicLevelAt(level))

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		fields := []zapcore.Field{zap.String("go_version", buildInfo.GoVersion)}
		for _, v := range buildInfo.Settings {
			if v.Key == "vcs.revision" && len(v.Value) >= 7 {
				fields = append(fields, zap.String("git_revision", v.Value[0:7]))
				break
			}
		}
		core = core.With(fields)
	}

	return zap.New(core).Sugar()
}

func productionEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func developmentEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// FromCtx returns the Logger associated with the ctx, falling back to the
// process logger. Any extra key/value pairs are attached to the result.
func FromCtx(ctx context.Context, with ...any) *zap.SugaredLogger {
	l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger)
	if !ok {
		l = logger
	}
	if l == nil {
		l = Get()
	}

	if len(with) == 0 {
		return l
	}

	return l.With(with...)
}

// WithCtx returns a copy of ctx with the Logger attached.
func WithCtx(ctx context.Context, l *zap.SugaredLogger) context.Context {
	if lp, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && lp == l {
		return ctx
	}

	return context.WithValue(ctx, ctxKey{}, l)
}

// Nop returns a context carrying a logger that discards everything.
func Nop(ctx context.Context) context.Context {
	return WithCtx(ctx, zap.NewNop().Sugar())
}
