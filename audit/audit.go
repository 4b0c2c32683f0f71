// Package audit records session lifecycle events.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Action names a session lifecycle event.
type Action string

const (
	ActionLogin                  Action = "login"
	ActionRegister               Action = "register"
	ActionLogout                 Action = "logout"
	ActionVerifyEmail            Action = "verify_email"
	ActionPasswordResetRequested Action = "password_reset_requested"
	ActionPasswordReset          Action = "password_reset"
	ActionRefresh                Action = "refresh"
	ActionSessionExpired         Action = "session_expired"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Event represents a session audit event. Email is always redacted by the emitter.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Result    string    `json:"result"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ResultOf returns ResultSuccess or ResultFailure for err.
func ResultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers.
// A nil *Logger discards events.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithWriterHandler adds a handler that writes one JSON event per line to w.
func WithWriterHandler(w io.Writer) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			data, _ := json.Marshal(e)
			_, _ = fmt.Fprintf(w, "%s\n", data)
		})
	}
}

// WithSlogHandler adds a handler that logs events at info level.
func WithSlogHandler(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			logger.Info("audit",
				"action", string(e.Action),
				"result", e.Result,
				"user_id", e.UserID,
				"tenant_id", e.TenantID,
				"email", e.Email,
				"trigger", e.Trigger,
				"error", e.Error,
			)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates a new audit logger with buffered async emission.
// bufferSize: event queue buffer size (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(logger)
	}

	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler to receive audit events. Call before the first Log.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log emits an audit event asynchronously.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-l.done:
		// shutting down, event is dropped
		return
	default:
	}

	select {
	case l.queue <- event:
	case <-l.done:
	}
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.emit(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					l.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(e Event) {
	for _, h := range l.handlers {
		h(e)
	}
}

// Close flushes pending events and stops the logger. It is safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
