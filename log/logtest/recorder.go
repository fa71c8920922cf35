/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a logger that keeps entries in memory so tests can assert on them.
package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-offlinecache/log"
)

// RecordedEntry is a logged entry with both its own and derived (With) fields.
type RecordedEntry struct {
	LoggerName string
	Fields     []log.Field
	Level      log.Level
	Time       time.Time
	Text       string
}

// FindField returns the first field with the key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// FindStringField returns the value of a string field. Fields of other types are not found.
func (re *RecordedEntry) FindStringField(key string) (string, bool) {
	field, ok := re.FindField(key)
	if !ok || field.Type != logf.FieldTypeBytesToString {
		return "", false
	}
	return string(field.Bytes), true
}

var recordedLevels = map[logf.Level]log.Level{
	logf.LevelDebug: log.LevelDebug,
	logf.LevelInfo:  log.LevelInfo,
	logf.LevelWarn:  log.LevelWarn,
	logf.LevelError: log.LevelError,
}

// entryStore is a logf.EntryWriter shared by a Recorder and all loggers derived from it.
type entryStore struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter passes entries by value
func (s *entryStore) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.Fields)+len(e.DerivedFields))
	fields = append(fields, e.Fields...)
	fields = append(fields, e.DerivedFields...)
	level, ok := recordedLevels[e.Level]
	if !ok {
		level = log.LevelInfo
	}

	s.mu.Lock()
	s.entries = append(s.entries, RecordedEntry{
		LoggerName: e.LoggerName,
		Fields:     fields,
		Level:      level,
		Time:       e.Time,
		Text:       e.Text,
	})
	s.mu.Unlock()
}

func (s *entryStore) snapshot() []RecordedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordedEntry(nil), s.entries...)
}

// Recorder is a log.FieldLogger recording every entry at debug level and above.
type Recorder struct {
	*log.LogfAdapter
	store *entryStore
}

func NewRecorder() *Recorder {
	store := &entryStore{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, store)}, store: store}
}

func (r *Recorder) derive(l log.FieldLogger) *Recorder {
	return &Recorder{LogfAdapter: l.(*log.LogfAdapter), store: r.store}
}

// With returns a Recorder sharing entries with r.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return r.derive(r.LogfAdapter.With(fs...))
}

// WithLevel returns a Recorder sharing entries with r and dropping entries below level.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return r.derive(r.LogfAdapter.WithLevel(level))
}

// Entries returns a copy of the recorded entries in logging order.
func (r *Recorder) Entries() []RecordedEntry {
	return r.store.snapshot()
}

// FindEntry returns the first entry whose text is exactly msg.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(entry RecordedEntry) bool { return entry.Text == msg })
}

func (r *Recorder) FindEntryByFilter(filter func(entry RecordedEntry) bool) (RecordedEntry, bool) {
	for _, entry := range r.store.snapshot() {
		if filter(entry) {
			return entry, true
		}
	}
	return RecordedEntry{}, false
}

func (r *Recorder) FindAllEntriesByFilter(filter func(entry RecordedEntry) bool) []RecordedEntry {
	var found []RecordedEntry
	for _, entry := range r.store.snapshot() {
		if filter(entry) {
			found = append(found, entry)
		}
	}
	return found
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.store.mu.Lock()
	r.store.entries = nil
	r.store.mu.Unlock()
}
