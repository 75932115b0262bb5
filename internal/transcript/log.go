// Package transcript keeps the ordered transcript of one voice session.
//
// Entries arrive from the backend in any order and possibly more than once.
// [Log] orders them by the creation timestamp encoded in their identifier,
// breaking ties by suffix, and ignores repeats. [Follower] decides whether a
// view should stay pinned to the newest entry.
package transcript

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxconsole/pkg/types"
)

// ErrMalformedID is wrapped by [ParseID] failures.
var ErrMalformedID = errors.New("transcript: malformed entry id")

// systemSuffix prefixes the suffix of locally generated notes.
const systemSuffix = "sys-"

// ParseID splits an entry id of the form "<unix-millis>_<suffix>".
func ParseID(id string) (millis int64, suffix string, err error) {
	head, tail, ok := strings.Cut(id, "_")
	if !ok || head == "" || tail == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return 0, "", fmt.Errorf("%w: %q: timestamp is not numeric", ErrMalformedID, id)
		}
	}
	millis, err = strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q: %w", ErrMalformedID, id, err)
	}
	return millis, tail, nil
}

// sortKey orders entries by timestamp, then suffix. The full id breaks the
// remaining ties, e.g. "0001_a" and "1_a".
type sortKey struct {
	millis int64
	suffix string
	id     string
}

func (a sortKey) compare(b sortKey) int {
	if a.millis != b.millis {
		if a.millis < b.millis {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.suffix, b.suffix); c != 0 {
		return c
	}
	return strings.Compare(a.id, b.id)
}

type record struct {
	key   sortKey
	entry types.TranscriptEntry
}

// LogOption configures a [Log].
type LogOption func(*Log)

// WithClock sets the time source used for system note ids.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// Log is an ordered, duplicate-free transcript. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	records []record
	ids     map[string]struct{}
	now     func() time.Time
	noteSeq atomic.Uint64
}

// NewLog returns an empty transcript.
func NewLog(opts ...LogOption) *Log {
	l := &Log{ids: make(map[string]struct{}), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Insert places e in order. It reports false without error when an entry with
// the same id is already present. Malformed ids and unknown speakers are
// rejected with a [types.KindTranscriptDecode] error and leave the log
// unchanged.
func (l *Log) Insert(e types.TranscriptEntry) (bool, error) {
	millis, suffix, err := ParseID(e.ID)
	if err != nil {
		return false, types.NewError(types.KindTranscriptDecode, "insert transcript entry", err)
	}
	if !e.Speaker.IsValid() {
		return false, types.NewError(types.KindTranscriptDecode, "insert transcript entry",
			fmt.Errorf("unknown speaker %q in %s", e.Speaker, e.ID))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[e.ID]; dup {
		return false, nil
	}
	k := sortKey{millis: millis, suffix: suffix, id: e.ID}
	i, _ := slices.BinarySearchFunc(l.records, k, func(r record, k sortKey) int {
		return r.key.compare(k)
	})
	l.records = slices.Insert(l.records, i, record{key: k, entry: e})
	l.ids[e.ID] = struct{}{}
	return true, nil
}

// SystemNote inserts a local System entry stamped with the current time.
// Notes created within the same millisecond keep their creation order.
func (l *Log) SystemNote(text string) types.TranscriptEntry {
	id := fmt.Sprintf("%d_%s%06d-%s", l.now().UnixMilli(), systemSuffix, l.noteSeq.Add(1), uuid.NewString()[:8])
	e := types.TranscriptEntry{ID: id, Speaker: types.SpeakerSystem, Text: text}
	// The generated id is always well-formed and unique.
	_, _ = l.Insert(e)
	return e
}

// Reset drops every entry.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	clear(l.ids)
}

// Entries returns a copy of the transcript in order.
func (l *Log) Entries() []types.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.TranscriptEntry, len(l.records))
	for i, r := range l.records {
		out[i] = r.entry
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// IsSystemNote reports whether id was produced by [Log.SystemNote].
func IsSystemNote(id string) bool {
	_, suffix, err := ParseID(id)
	return err == nil && strings.HasPrefix(suffix, systemSuffix)
}
