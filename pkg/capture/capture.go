// Package capture records the raw bytes a connection exchanges and keeps
// the resulting transcripts on disk or in S3.
//
// A Recorder plugs into a connection as its conn.Tap:
//
//	rec := capture.NewRecorder(target.String(), 0)
//	c, err := h1.Dial(ctx, d, target, h1.Options{Hooks: conn.Hooks{Tap: rec}})
//	...
//	id, err := store.Save(ctx, rec.Transcript())
package capture

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
)

// ErrNotFound is returned when a transcript doesn't exist.
var ErrNotFound = errors.New("capture: transcript not found")

// Direction tells sent bytes from received bytes.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Entry is one transport write or read.
type Entry struct {
	// At is the offset from the start of the recording.
	At       time.Duration `json:"at"`
	Dir      Direction     `json:"dir"`
	Protocol string        `json:"protocol"`
	Stream   uint64        `json:"stream"`
	Data     []byte        `json:"data"`
}

// Transcript is a recorded exchange.
type Transcript struct {
	ID      string    `json:"id,omitempty"`
	Target  string    `json:"target"`
	Started time.Time `json:"started"`
	// Truncated is set when the recorder dropped bytes past its limit.
	Truncated bool    `json:"truncated,omitempty"`
	Entries   []Entry `json:"entries"`
}

// Bytes concatenates the data recorded in dir on stream.
func (t *Transcript) Bytes(dir Direction, stream uint64) []byte {
	var b bytes.Buffer
	for _, e := range t.Entries {
		if e.Dir == dir && e.Stream == stream {
			b.Write(e.Data)
		}
	}
	return b.Bytes()
}

// Streams lists the stream ids that carried data, in ascending order.
func (t *Transcript) Streams() []uint64 {
	seen := make(map[uint64]bool)
	var ids []uint64
	for _, e := range t.Entries {
		if !seen[e.Stream] {
			seen[e.Stream] = true
			ids = append(ids, e.Stream)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Recorder collects transport bytes. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	target    string
	start     time.Time
	maxBytes  int
	total     int
	truncated bool
	entries   []Entry
}

var _ conn.Tap = (*Recorder)(nil)

// NewRecorder starts a recording for target. maxBytes caps the recorded
// data (0 = no limit).
func NewRecorder(target string, maxBytes int) *Recorder {
	return &Recorder{target: target, start: time.Now(), maxBytes: maxBytes}
}

// Wrote implements conn.Tap.
func (r *Recorder) Wrote(fam frame.Family, stream uint64, b []byte) {
	r.add(Sent, fam, stream, b)
}

// Read implements conn.Tap.
func (r *Recorder) Read(fam frame.Family, stream uint64, b []byte) {
	r.add(Received, fam, stream, b)
}

func (r *Recorder) add(dir Direction, fam frame.Family, stream uint64, b []byte) {
	if len(b) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxBytes > 0 {
		room := r.maxBytes - r.total
		if room <= 0 {
			r.truncated = true
			return
		}
		if len(b) > room {
			b = b[:room]
			r.truncated = true
		}
	}
	r.total += len(b)
	r.entries = append(r.entries, Entry{
		At:       time.Since(r.start),
		Dir:      dir,
		Protocol: fam.String(),
		Stream:   stream,
		Data:     append([]byte(nil), b...),
	})
}

// Transcript returns a copy of what has been recorded so far.
func (r *Recorder) Transcript() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Transcript{
		Target:    r.target,
		Started:   r.start,
		Truncated: r.truncated,
		Entries:   append([]Entry(nil), r.entries...),
	}
}

// generateID generates a cryptographically random transcript ID.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
