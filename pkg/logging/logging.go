// Package logging builds the zap-backed ectologger used by the d2g binaries.
package logging

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "github.com/mike-walpole/d2g/pkg/context"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

type Config struct {
	Service string
	Version string
	Level   string
	// Pretty switches to zap's human readable development encoder
	Pretty bool
}

// NewZapLogger builds the zap logger. Callers own Sync.
func NewZapLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Pretty {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build(zap.Fields(
		zap.String("service", cfg.Service),
		zap.String("version", cfg.Version),
	))
}

func NewLogger(zapLogger *zap.Logger) ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zapLogger, WithRequestFields)
}

// WithRequestFields copies the request and trace ids from the log context onto the entry.
func WithRequestFields(msg ectologger.EctoLogMessage) ectologger.EctoLogMessage {
	if msg.Ctx == nil {
		return msg
	}
	fields := make(map[string]any, len(msg.Fields)+2)
	for k, v := range msg.Fields {
		fields[k] = v
	}
	msg.Fields = fields
	if id := appctx.GetRequestID(msg.Ctx); id != "" {
		msg.Fields["request_id"] = id
	}
	if id := tracing.GetTraceID(msg.Ctx); id != "" {
		msg.Fields["trace_id"] = id
	}
	return msg
}
