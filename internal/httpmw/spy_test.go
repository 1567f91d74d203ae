package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/insightdash/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records every call; With returns a child sharing the record.
type spyLogger struct {
	mu      *sync.Mutex
	entries *[]spyEntry
	fields  []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{mu: &sync.Mutex{}, entries: &[]spyEntry{}}
}

func (s *spyLogger) add(level, msg string, err error, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any{}, s.fields...), kv...)
	*s.entries = append(*s.entries, spyEntry{level: level, msg: msg, err: err, kv: all})
}

func (s *spyLogger) With(kv ...any) log.Logger {
	return &spyLogger{mu: s.mu, entries: s.entries, fields: append(append([]any{}, s.fields...), kv...)}
}
func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.add("debug", msg, nil, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.add("info", msg, nil, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.add("warn", msg, nil, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add("error", msg, err, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) all() []spyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyEntry(nil), *s.entries...)
}

func (s *spyLogger) byLevel(level string) []spyEntry {
	var out []spyEntry
	for _, e := range s.all() {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
