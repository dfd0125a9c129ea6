package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the global logger instance
	Log = zap.NewNop()
)

// Initialize sets up the logger with the specified environment
func Initialize(env string) *zap.Logger {
	return InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger with the specified environment and optional CloudWatch writer
func InitializeWithWriter(env string, cloudWatchWriter io.Writer) *zap.Logger {
	config := configFor(env)

	if cloudWatchWriter != nil {
		encoder := zapcore.NewJSONEncoder(config.EncoderConfig)

		consoleEncoder := zapcore.NewConsoleEncoder(config.EncoderConfig)
		consoleLevel := zap.NewAtomicLevelAt(config.Level.Level())
		consoleCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), consoleLevel)

		cwLevel := zap.NewAtomicLevelAt(config.Level.Level())
		cwCore := zapcore.NewCore(encoder, zapcore.AddSync(cloudWatchWriter), cwLevel)

		Log = zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		return Log
	}

	l, err := config.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	Log = l
	return Log
}

func configFor(env string) zap.Config {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config
	}
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}
