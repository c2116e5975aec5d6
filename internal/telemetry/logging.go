package telemetry

import (
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig describes the bridge's structured logger.
type LoggerConfig struct {
	Level       string
	Service     string
	Version     string
	Environment string

	// Output defaults to stdout.
	Output string
}

// NewLogger builds a JSON logger that stamps every entry with the service
// identity and the USPS environment it talks to.
func NewLogger(cfg LoggerConfig) (*otelzap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "json"
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	var fields []zap.Field
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		fields = append(fields, zap.String("version", cfg.Version))
	}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("usps_environment", cfg.Environment))
	}

	zl, err := zc.Build(zap.AddCallerSkip(1), zap.Fields(fields...))
	if err != nil {
		return nil, err
	}
	return otelzap.New(zl), nil
}
