package debuglog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	std     = newLogger()
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if enabled() {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func enabled() bool {
	return os.Getenv("ALLNET_DEBUG") == "1"
}

// SetDebug switches debug output on or off regardless of ALLNET_DEBUG.
func SetDebug(on bool) {
	if on {
		std.SetLevel(logrus.DebugLevel)
		return
	}
	std.SetLevel(logrus.InfoLevel)
}

func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Logger exposes the process logger for callers that need fields.
func Logger() *logrus.Logger {
	return std
}

func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}

func Logf(format string, args ...any) {
	std.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	std.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	std.Errorf(format, args...)
}

func Debugf(format string, args ...any) {
	if !std.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	std.Debugf(format, args...)
}

// RateLimitedf logs at most once per interval for each key. Per-packet
// messages go through here so a flood cannot flood stderr too.
func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	std.WithField("key", key).Info(fmt.Sprintf(format, args...))
}
