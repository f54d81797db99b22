package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

var (
	providerMu     sync.RWMutex
	globalProvider LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo)
)

func init() {
	// ライブラリ内の警告（収束しなかった最適化など）をzerolog経由で出力する
	scigoErrors.SetZerologWarnFunc(func(w error) {
		fields := []any{ErrorTypeKey, fmt.Sprintf("%T", w)}
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			fields = append(fields, "warning", m)
		}
		GetLoggerWithName("warnings").Warn(w.Error(), fields...)
	})
}

// SetProvider replaces the global logger provider. Loggers obtained before
// the call keep writing to the previous provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = p
}

// GetProvider returns the global logger provider.
func GetProvider() LoggerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return globalProvider
}

// GetLogger returns the default logger of the global provider.
func GetLogger() Logger {
	return GetProvider().GetLogger()
}

// GetLoggerWithName returns a component logger of the global provider.
func GetLoggerWithName(name string) Logger {
	return GetProvider().GetLoggerWithName(name)
}

// SetLevel sets the minimum level of the global provider.
func SetLevel(level Level) {
	GetProvider().SetLevel(level)
}

// ZerologProvider is the default LoggerProvider. It writes JSON lines through zerolog.
type ZerologProvider struct {
	base  zerolog.Logger
	level *atomic.Int32
}

// NewZerologProvider creates a provider writing to w at the given minimum level.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	lv := &atomic.Int32{}
	lv.Store(int32(level))
	return &ZerologProvider{
		base:  zerolog.New(w).With().Timestamp().Logger(),
		level: lv,
	}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{zl: p.base, level: p.level}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel. It applies to loggers already
// handed out as well.
func (p *ZerologProvider) SetLevel(level Level) {
	p.level.Store(int32(level))
}

type zerologLogger struct {
	zl    zerolog.Logger
	level *atomic.Int32
}

func (l *zerologLogger) Debug(msg string, fields ...any) {
	l.emit(LevelDebug, l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...any) {
	l.emit(LevelInfo, l.zl.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...any) {
	l.emit(LevelWarn, l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...any) {
	l.emit(LevelError, l.zl.Error(), msg, fields)
}

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for _, kv := range pairs(fields) {
		switch v := kv.value.(type) {
		case error:
			ctx = ctx.AnErr(kv.key, v)
		case zerolog.LogObjectMarshaler:
			ctx = ctx.Object(kv.key, v)
		default:
			ctx = ctx.Interface(kv.key, v)
		}
	}
	return &zerologLogger{zl: ctx.Logger(), level: l.level}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *zerologLogger) emit(level Level, e *zerolog.Event, msg string, fields []any) {
	if !l.Enabled(context.Background(), level) {
		return
	}
	for _, kv := range pairs(fields) {
		switch v := kv.value.(type) {
		case error:
			e = e.AnErr(kv.key, v)
			if st := extractStacktrace(v); st != "" {
				e = e.Str(StacktraceAttrKey, st)
			}
		case zerolog.LogObjectMarshaler:
			e = e.Object(kv.key, v)
		default:
			e = e.Interface(kv.key, v)
		}
	}
	e.Msg(msg)
}

type keyValue struct {
	key   string
	value any
}

// pairs splits alternating key/value fields. A leading bare error is keyed
// as ErrAttrKey; a trailing key without value is dropped.
func pairs(fields []any) []keyValue {
	if len(fields) == 0 {
		return nil
	}
	out := make([]keyValue, 0, len(fields)/2+1)
	if err, ok := fields[0].(error); ok {
		out = append(out, keyValue{key: ErrAttrKey, value: err})
		fields = fields[1:]
	}
	for i := 0; i+1 < len(fields); i += 2 {
		out = append(out, keyValue{key: fmt.Sprint(fields[i]), value: fields[i+1]})
	}
	return out
}
