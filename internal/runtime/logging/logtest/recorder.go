// Package logtest provides a ServiceLogger that records entries for
// assertions in tests.
package logtest

import (
	"sync"

	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
)

// Entry is a single recorded log line.
type Entry struct {
	Level  string
	Msg    string
	Fields loggingpkg.LogFields
	Err    error
}

// Recorder is safe for concurrent use; children created through With share
// the parent's entry list.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  loggingpkg.LogFields
}

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &Recorder{mu: r.mu, entries: r.entries, fields: merge(r.fields, fields)}
}

func (r *Recorder) Debug(msg string, fields loggingpkg.LogFields) { r.add("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields loggingpkg.LogFields)  { r.add("info", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields loggingpkg.LogFields) { r.add("trace", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, err, fields)
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Find returns the first entry with the given level and message.
func (r *Recorder) Find(level, msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Level == level && e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Recorder) add(level, msg string, err error, fields loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: merge(r.fields, fields), Err: err})
}

func merge(base, extra loggingpkg.LogFields) loggingpkg.LogFields {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(loggingpkg.LogFields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
