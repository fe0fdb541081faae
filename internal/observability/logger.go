// Package observability owns the process-wide zap logger. Commands write their
// results to stdout, so log lines go to stderr and, when configured, to a
// rotating JSON file.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/courier-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const (
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

// ansiByName resolves the color names accepted in logger.colors.
var ansiByName = map[string]string{
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// Initialize installs the global logger with console output on consoleWriter.
// Only the first call takes effect; tests reset it with ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(newEncoder(cfg), consoleWriter, level)}
		if cfg.LogFile != "" {
			cores = append(cores, rotatingFileCore(cfg, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...)
		if cfg.ServiceName != "" {
			logger = logger.Named(cfg.ServiceName)
		}
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger logs to stderr.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest forgets the installed logger.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// rotatingFileCore writes JSON lines to cfg.LogFile regardless of the console format.
func rotatingFileCore(cfg config.LoggerConfig, level zap.AtomicLevel) zapcore.Core {
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	jsonCfg := cfg
	jsonCfg.Format = "json"
	return zapcore.NewCore(newEncoder(jsonCfg), sink, level)
}

// levelPalette maps each level to its ANSI prefix. Levels above error share the
// fatal color.
func levelPalette(colors config.ColorConfig) map[zapcore.Level]string {
	fatal := ansiByName[colors.Fatal]
	return map[zapcore.Level]string{
		zapcore.DebugLevel:  ansiByName[colors.Debug],
		zapcore.InfoLevel:   ansiByName[colors.Info],
		zapcore.WarnLevel:   ansiByName[colors.Warn],
		zapcore.ErrorLevel:  ansiByName[colors.Error],
		zapcore.DPanicLevel: fatal,
		zapcore.PanicLevel:  fatal,
		zapcore.FatalLevel:  fatal,
	}
}

func colorLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	palette := levelPalette(colors)
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := strings.ToUpper(level.String())
		if c := palette[level]; c != "" {
			name = c + name + colorReset
		}
		enc.AppendString(name)
	}
}

func newEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeDuration = zapcore.StringDurationEncoder

	if cfg.Format != "console" {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}

	ec.EncodeLevel = colorLevelEncoder(cfg.Colors)
	// "courier.workflow." reads as a prefix on the console.
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the installed logger. Before Initialize it hands out a
// development logger named "fallback" so early errors are still printed.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Logger used before initialization, falling back to development output.")
	return l.Named("fallback")
}

// Errors from fsync on terminals and pipes.
var unsyncableOutput = []string{
	"sync /dev/std",
	"invalid argument",
	"inappropriate ioctl",
	"operation not supported",
}

// Sync flushes buffered entries before the process exits.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	err := logger.Sync()
	if err == nil {
		return
	}
	msg := err.Error()
	for _, s := range unsyncableOutput {
		if strings.Contains(msg, s) {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
}
