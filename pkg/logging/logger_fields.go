package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain fields

func Component(name string) Field {
	return String("component", name)
}

func MemberID(id int) Field {
	return Int("member_id", id)
}

func Strategy(s string) Field {
	return String("strategy", s)
}

func Step(s string) Field {
	return String("step", s)
}

func Version(v string) Field {
	return String("version", v)
}

func RunID(id string) Field {
	return String("run_id", id)
}

func Seq(seq uint64) Field {
	return Uint64("seq", seq)
}

func Addr(addr string) Field {
	return String("addr", addr)
}

func Role(role string) Field {
	return String("role", role)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Path(p string) Field {
	return String("path", p)
}
