// Package errorlog persists caught failures as exception rows without blocking the caller.
package errorlog

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
)

const defaultService = "position_engine"

type exceptionCreator interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Reporter is the collaborator interface the engine reports failures through.
type Reporter interface {
	LogErrorAsync(message string, err error, source string, additionalData map[string]interface{})
}

// Logger writes exceptions in the background. Wait blocks until pending writes finish.
type Logger struct {
	repo         exceptionCreator
	service      string
	writeTimeout time.Duration
	wg           sync.WaitGroup
}

var _ Reporter = (*Logger)(nil)

func New(repo exceptionCreator) *Logger {
	return &Logger{
		repo:         repo,
		service:      defaultService,
		writeTimeout: 5 * time.Second,
	}
}

// LogErrorAsync logs locally right away and persists the exception on a separate goroutine.
func (l *Logger) LogErrorAsync(message string, err error, source string, additionalData map[string]interface{}) {
	exc := l.build(message, err, source, additionalData)

	entry := logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"source":  source,
		"level":   exc.Level,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)

	if l.repo == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()
		if e := l.repo.Create(ctx, exc); e != nil {
			logger.WithError(e).WithField("source", source).Error("Failed to persist exception")
		}
	}()
}

// Wait blocks until every queued exception was written or failed.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) build(message string, err error, source string, data map[string]interface{}) *model.Exception {
	exc := &model.Exception{
		Service:   l.service,
		Source:    source,
		Message:   message,
		Stack:     string(debug.Stack()),
		Level:     model.ExceptionLevelError,
		Context:   "{}",
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		exc.Error = err.Error()
	}
	if len(data) > 0 {
		if b, e := json.Marshal(Redact(data)); e == nil {
			exc.Context = string(b)
		}
	}
	return exc
}

var sensitiveKeys = []string{"key", "secret", "passphrase", "password", "token", "credential", "signature"}

// Redact returns a copy of data with credential-like keys masked.
func Redact(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitive(k) {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
