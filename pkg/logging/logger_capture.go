package logging

import (
	"sync"
)

// CaptureLogger keeps records in memory so tests can assert on them
type CaptureLogger struct {
	store  *captureStore
	level  Level
	fields []Field
}

type captureStore struct {
	mu      sync.Mutex
	records []Captured
}

// Captured is one record held by a CaptureLogger
type Captured struct {
	Level   Level
	Message string
	Fields  map[string]any
}

// NewCaptureLogger creates an in-memory logger that keeps every level
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{store: &captureStore{}, level: DebugLevel}
}

func (c *CaptureLogger) log(level Level, msg string, fields []Field) {
	if level < c.level {
		return
	}
	m := make(map[string]any, len(c.fields)+len(fields))
	for _, f := range c.fields {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.records = append(c.store.records, Captured{Level: level, Message: msg, Fields: m})
}

func (c *CaptureLogger) Debug(msg string, fields ...Field) { c.log(DebugLevel, msg, fields) }
func (c *CaptureLogger) Info(msg string, fields ...Field)  { c.log(InfoLevel, msg, fields) }
func (c *CaptureLogger) Warn(msg string, fields ...Field)  { c.log(WarnLevel, msg, fields) }
func (c *CaptureLogger) Error(msg string, fields ...Field) { c.log(ErrorLevel, msg, fields) }

// With creates a child logger that records into the same store
func (c *CaptureLogger) With(fields ...Field) Logger {
	newFields := make([]Field, len(c.fields)+len(fields))
	copy(newFields, c.fields)
	copy(newFields[len(c.fields):], fields)
	return &CaptureLogger{store: c.store, level: c.level, fields: newFields}
}

func (c *CaptureLogger) SetLevel(level Level) { c.level = level }
func (c *CaptureLogger) GetLevel() Level      { return c.level }

// Records returns a copy of everything logged so far
func (c *CaptureLogger) Records() []Captured {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]Captured, len(c.store.records))
	copy(out, c.store.records)
	return out
}

// Count returns how many records were logged at level
func (c *CaptureLogger) Count(level Level) int {
	n := 0
	for _, r := range c.Records() {
		if r.Level == level {
			n++
		}
	}
	return n
}
