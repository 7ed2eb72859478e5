// Package logging はポータルとゲートウェイクライアントが使うzapロガーを構築する。
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format はログの出力形式。
type Format string

const (
	// FormatJSON はJSON形式で出力する。既定値。
	FormatJSON Format = "json"
	// FormatConsole は人が読みやすい形式で出力する。
	FormatConsole Format = "console"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。空の場合はinfo。
	Level string
	// Format は出力形式（json, console）。
	Format string
	// Writer は出力先。nilの場合は標準出力。
	Writer io.Writer
}

// New は設定に従ってzap.Loggerを生成する。
func New(cfg Config) *zap.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch Format(strings.ToLower(strings.TrimSpace(cfg.Format))) {
	case FormatConsole, "text":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), ParseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller())
}

// ParseLevel はログレベル文字列を解釈する。不明な値はinfoとして扱う。
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithComponent はcomponentフィールドを付与したロガーを返す。
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}
