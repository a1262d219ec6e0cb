package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Str adds a string field.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str(key, value) }
}

// Int adds an integer field.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int(key, value) }
}

// Bool adds a boolean field.
func Bool(key string, value bool) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Bool(key, value) }
}

// Duration adds a duration field in milliseconds.
func Duration(key string, d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int64(key+"_ms", d.Milliseconds()) }
}

// ErrField adds an error field, a no-op when err is nil.
func ErrField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// TaskID adds a task_id field.
func TaskID(id string) Field { return Str("task_id", id) }

// TaskType adds a task_type field.
func TaskType(t string) Field { return Str("task_type", t) }

// ConfigVersion adds a config_version field.
func ConfigVersion(v string) Field { return Str("config_version", v) }

// Component adds a component field for categorization (transport, breaker, dispatcher, ...).
func Component(name string) Field { return Str("component", name) }

// Status adds an HTTP status code field.
func Status(code int) Field { return Int("status", code) }
