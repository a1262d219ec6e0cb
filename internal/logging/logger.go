// Package logging provides structured logging for the agent runtime using bolt.
package logging

import (
	"os"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	defaultLogger *bolt.Logger
	once          sync.Once
	mu            sync.Mutex
)

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Format is the output format (json or text).
	Format string

	// Output is the output destination. Defaults to stdout.
	Output *os.File
}

// DefaultConfig returns a configuration matching LOG_LEVEL=info, LOG_FORMAT=json.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

func parseLevel(s string) bolt.Level {
	switch s {
	case "debug":
		return bolt.DEBUG
	case "info":
		return bolt.INFO
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// Init initializes the default logger with the given configuration. Only the
// first call takes effect; use SetLevel to adjust the level afterward.
func Init(config Config) {
	once.Do(func() {
		output := config.Output
		if output == nil {
			output = os.Stdout
		}

		var handler bolt.Handler
		if config.Format == "text" {
			handler = bolt.NewConsoleHandler(output)
		} else {
			handler = bolt.NewJSONHandler(output)
		}

		defaultLogger = bolt.New(handler).SetLevel(parseLevel(config.Level))
	})
}

// Get returns the default logger, initializing it with DefaultConfig if needed.
func Get() *bolt.Logger {
	if defaultLogger == nil {
		Init(DefaultConfig())
	}
	return defaultLogger
}

// SetLevel changes the level of the default logger. Used to apply the
// log level forwarded from workers.logger.log_level whenever config is reapplied.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	Get().SetLevel(parseLevel(level))
}

// Event wraps a bolt.Event so Fields can be applied fluently.
type Event struct {
	event *bolt.Event
}

// Add applies a field to the event.
func (l *Event) Add(f Field) *Event {
	if l == nil || l.event == nil {
		return l
	}
	l.event = f(l.event)
	return l
}

// Msg sends the log event with a message.
func (l *Event) Msg(msg string) {
	if l == nil || l.event == nil {
		return
	}
	l.event.Msg(msg)
}

// Debug returns an Event wrapper for debug level logging.
func Debug() *Event { return &Event{event: Get().Debug()} }

// Info returns an Event wrapper for info level logging.
func Info() *Event { return &Event{event: Get().Info()} }

// Warn returns an Event wrapper for warn level logging.
func Warn() *Event { return &Event{event: Get().Warn()} }

// Error returns an Event wrapper for error level logging.
func Error() *Event { return &Event{event: Get().Error()} }
