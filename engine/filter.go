package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"go.uber.org/zap/zapcore"
)

var temporaryErrs = []string{
	"temporary failure",
	"timed out",
	"connection reset",
}

// LogFilter formats the logs of the engine (python logging) and records the last error
type LogFilter struct {
	mu        sync.Mutex
	lastError string
}

var _ log.Filter = &LogFilter{}

// Filter implements log.Filter
func (f *LogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	msg = strings.TrimSuffix(msg, "\n")
	trimmedmsg := strings.TrimSpace(msg)
	switch {
	case trimmedmsg == "":
		return msg, defaultLevel, true
	case strings.HasPrefix(trimmedmsg, "FATAL:"), strings.HasPrefix(trimmedmsg, "ERROR:"), strings.Contains(trimmedmsg, "Traceback (most recent call last)"):
		f.mu.Lock()
		f.lastError = trimmedmsg
		f.mu.Unlock()
		return msg, zapcore.ErrorLevel, false
	case strings.HasPrefix(trimmedmsg, "WARNING:"):
		return msg, zapcore.WarnLevel, false
	case strings.HasPrefix(trimmedmsg, "DEBUG:"):
		return msg, zapcore.DebugLevel, false
	}
	return msg, defaultLevel, false
}

// LastError returns the last error logged by the engine
func (f *LogFilter) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// WrapError wraps err with the last error logged by the engine
func (f *LogFilter) WrapError(err error) error {
	lastError := f.LastError()
	if err == nil || lastError == "" {
		return err
	}
	strerr := strings.ToLower(lastError)
	if strings.HasPrefix(lastError, "FATAL:") {
		err = service.MakeFatal(err)
	} else {
		for _, tmpErr := range temporaryErrs {
			if strings.Contains(strerr, tmpErr) {
				err = service.MakeTemporary(err)
				break
			}
		}
	}
	return fmt.Errorf("%w (%s)", err, lastError)
}
