package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EnvLevel is the environment variable that overrides configured levels
const EnvLevel = "LOG_LEVEL"

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(writer io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		out:   &syncWriter{w: writer},
		level: &levelVar{level: level},
	}
}

// ResolveLevel picks the effective level: LOG_LEVEL when set and valid,
// otherwise the configured name, otherwise info
func ResolveLevel(configured string) Level {
	if env, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		return env
	}
	level, _ := ParseLevel(configured)
	return level
}

// New creates a JSON logger on w at the resolved level
func New(w io.Writer, configured string) *JSONLogger {
	return NewJSONLogger(w, ResolveLevel(configured))
}

func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level.get() {
		return
	}

	fieldMap := make(map[string]any, len(l.fields)+len(fields))
	for _, f := range l.fields {
		fieldMap[f.Key] = f.Value
	}
	for _, f := range fields {
		fieldMap[f.Key] = f.Value
	}

	rec := Record{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if len(fieldMap) > 0 {
		rec.Fields = fieldMap
	}

	data, err := json.Marshal(rec)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if err != nil {
		fmt.Fprintf(l.out.w, "[ERROR] Failed to marshal log record: %v\n", err)
		return
	}
	data = append(data, '\n')
	_, _ = l.out.w.Write(data)
}

// Debug logs a debug-level message
func (l *JSONLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info-level message
func (l *JSONLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning-level message
func (l *JSONLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error-level message
func (l *JSONLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// With creates a child logger with the given fields pre-set
func (l *JSONLogger) With(fields ...Field) Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &JSONLogger{
		out:    l.out,
		level:  l.level,
		fields: newFields,
	}
}

// SetLevel sets the minimum log level for this logger and its children
func (l *JSONLogger) SetLevel(level Level) {
	l.level.set(level)
}

// GetLevel returns the current log level
func (l *JSONLogger) GetLevel() Level {
	return l.level.get()
}

// StartStep begins timing a migration step
func StartStep(logger Logger, step string, fields ...Field) *StepTimer {
	logger.Debug("step started", append([]Field{Step(step)}, fields...)...)
	return &StepTimer{
		logger: logger,
		step:   step,
		start:  time.Now(),
		fields: fields,
	}
}

// Elapsed returns the time since the step started
func (t *StepTimer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Done logs the step as finished with its duration
func (t *StepTimer) Done(extra ...Field) time.Duration {
	elapsed := t.Elapsed()
	fields := append([]Field{Step(t.step), Latency(elapsed)}, t.fields...)
	t.logger.Info("step finished", append(fields, extra...)...)
	return elapsed
}

// Fail logs the step as failed with its duration
func (t *StepTimer) Fail(err error, extra ...Field) time.Duration {
	elapsed := t.Elapsed()
	fields := append([]Field{Step(t.step), Latency(elapsed), Error(err)}, t.fields...)
	t.logger.Error("step failed", append(fields, extra...)...)
	return elapsed
}
