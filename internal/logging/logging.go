// Package logging bootstraps the process-wide zap logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. In development mode it uses the console encoder
// for readable local output; otherwise it uses the JSON production encoder
// so log lines can be shipped/aggregated.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Must is New but panics on failure, for use at process bootstrap where
// there is no logger yet to report the error through.
func Must(development bool) *zap.Logger {
	l, err := New(development)
	if err != nil {
		panic(err)
	}
	return l
}
