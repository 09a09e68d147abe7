package utils

import (
	"math"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование поверх zap.
//
// Назначение:
// Единая точка настройки логгера для всего пайплайна: выбор формата
// (json для production, text для локальной разработки), уровень,
// вывод в файл или stderr, и набор доменных полей (exchange, symbol,
// pair_id, ...) для единообразной разметки записей в разных сервисах.

// LogConfig описывает желаемую настройку логгера.
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // человекочитаемые stacktrace, более мягкая обработка паник
}

// Logger оборачивает *zap.Logger и его sugared-вариант.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitLogger создаёт новый Logger по заданной конфигурации. Никогда не
// паникует: при ошибке открытия файла вывода откатывается на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "info":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// With wraps zap's With, returning our Logger type so chained calls keep
// the sugared logger in sync.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent tags every subsequent log line with the owning component
// (e.g. "orchestrator", "execution", "risk").
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(zap.String("component", name))
}

// WithExchange tags log lines with the venue they concern.
func (l *Logger) WithExchange(venue string) *Logger {
	return l.With(zap.String("exchange", venue))
}

// WithSymbol tags log lines with the traded symbol.
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(zap.String("symbol", symbol))
}

// WithPairID tags log lines with the numeric pair identifier.
func (l *Logger) WithPairID(pairID int) *Logger {
	return l.With(zap.Int("pair_id", pairID))
}

// Sugar returns the underlying SugaredLogger for printf-style calls.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

// GetGlobalLogger returns the process-wide logger, lazily initializing
// it with defaults on first use.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// InitGlobalLogger initializes and installs the global logger.
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger installs a pre-built logger as the global one. Used in
// tests to capture output.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// L is a short alias for GetGlobalLogger, for call-site brevity.
func L() *Logger {
	return GetGlobalLogger()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Доменные конструкторы полей
// ============================================================

func Exchange(venue string) zap.Field   { return zap.String("exchange", venue) }
func Symbol(symbol string) zap.Field    { return zap.String("symbol", symbol) }
func PairID(id int) zap.Field           { return zap.Int("pair_id", id) }
func OrderID(id string) zap.Field       { return zap.String("order_id", id) }
func Price(v float64) zap.Field         { return zap.Float64("price", v) }
func Volume(v float64) zap.Field        { return zap.Float64("volume", v) }
func Spread(v float64) zap.Field        { return zap.Float64("spread", v) }
func PNL(v float64) zap.Field           { return zap.Float64("pnl", v) }
func Side(side string) zap.Field        { return zap.String("side", side) }
func State(state string) zap.Field      { return zap.String("state", state) }
func Latency(ms float64) zap.Field      { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func UserID(id int) zap.Field           { return zap.Int("user_id", id) }
func Component(name string) zap.Field   { return zap.String("component", name) }

// Reexported generic constructors so callers only need to import this
// package, not zap itself.
func String(key, value string) zap.Field     { return zap.String(key, value) }
func Int(key string, value int) zap.Field    { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field  { return zap.Bool(key, value) }
func Err(err error) zap.Field                 { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// fieldsToInterface flattens zap fields into a flat key/value slice,
// preserving input order, for callers that bridge into printf-style sinks.
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, fieldValue(f))
	}
	return out
}

func fieldValue(f zap.Field) interface{} {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.BoolType:
		return f.Integer == 1
	case zapcore.Float64Type:
		return math.Float64frombits(uint64(f.Integer))
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return f.Integer
	default:
		return f.Interface
	}
}
