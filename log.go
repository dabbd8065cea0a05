package muduo

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// The process-wide logging sink: level-tagged, settable to an arbitrary
// output writer, with an overridable time zone for timestamp formatting.
// Backed by github.com/rs/zerolog.
var (
	logMu    sync.RWMutex
	logger   = zerolog.New(os.Stderr).With().Timestamp().Logger()
	location = time.UTC
)

func init() {
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(location) }
}

// SetOutput redirects all subsequent log output to w.
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(level zerolog.Level) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = logger.Level(level)
}

// SetTimeZone overrides the time zone used to format log timestamps. A nil
// loc resets to UTC.
func SetTimeZone(loc *time.Location) {
	logMu.Lock()
	defer logMu.Unlock()
	if loc == nil {
		loc = time.UTC
	}
	location = loc
}

func currentLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

func logDebug(msg string, kv ...any) { l := currentLogger(); event(l.Debug(), msg, kv...) }
func logInfo(msg string, kv ...any)  { l := currentLogger(); event(l.Info(), msg, kv...) }
func logWarn(msg string, kv ...any)  { l := currentLogger(); event(l.Warn(), msg, kv...) }
func logError(msg string, kv ...any) { l := currentLogger(); event(l.Error(), msg, kv...) }

// logFatal logs msg at fatal level and then aborts the process. Reserved
// for programmer-misuse errors — wrong-thread access and similar invariant
// violations that must never be silently recovered from.
func logFatal(msg string, kv ...any) {
	l := currentLogger()
	event(l.Fatal(), msg, kv...)
	// Unreachable unless the fatal event was filtered out; misuse must
	// abort regardless of the configured level.
	os.Exit(1)
}

func event(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
