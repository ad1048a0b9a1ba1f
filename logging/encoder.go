package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// prefixedTimeEncoder formats timestamps with the configured prefix and layout.
func prefixedTimeEncoder(config Config) zapcore.TimeEncoder {
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(config.Prefix + t.Format(config.TimeFormat))
	}
}

// GetEncoder returns a zapcore.Encoder based on the config format.
func GetEncoder(config Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     prefixedTimeEncoder(config),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if config.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// exactLevel enables only the given level, so each file holds one level.
func exactLevel(level zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		return l == level
	}
}

// getZapCores builds the terminal core and one file core per enabled level.
func getZapCores(config Config) []zapcore.Core {
	minLevel := config.TransportLevel()
	encoder := GetEncoder(config)

	cores := make([]zapcore.Core, 0, 8)
	if config.LogInTerminal {
		cores = append(cores, zapcore.NewCore(encoder, terminalSyncer(), minLevel))
	}
	if config.LogInFile {
		for level := minLevel; level <= zapcore.FatalLevel; level++ {
			cores = append(cores, zapcore.NewCore(encoder, fileSyncer(config, level), exactLevel(level)))
		}
	}
	return cores
}
