// Package sessionlog records every JSON-RPC line exchanged with the
// app-server to a JSONL trace file.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mzhaom/codex-appserver/internal/ndjson"
)

// FormatCodex identifies the trace format in the header line.
const FormatCodex = "codex-app-server"

// Directions recorded in entries.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Header is the first line of a trace.
type Header struct {
	Format    string `json:"format"`
	Version   string `json:"version"`
	Client    string `json:"client"`
	Instance  string `json:"instance,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Entry is one recorded line. Lines that are not valid JSON are kept as a
// JSON string so the trace stays parseable.
type Entry struct {
	Timestamp string          `json:"timestamp"`
	Direction string          `json:"direction"`
	Message   json.RawMessage `json:"message"`
}

// Recorder appends entries to a trace file. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	w      *ndjson.Writer
	now    func() time.Time
	closed bool
}

// Create truncates path and writes the header.
func Create(path, client string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}
	r := &Recorder{f: f, w: ndjson.NewWriter(f), now: time.Now}
	if err := r.w.Write(Header{
		Format:    FormatCodex,
		Version:   "1.0",
		Client:    client,
		Timestamp: r.stamp(),
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write session log header: %w", err)
	}
	return r, nil
}

// Mark writes a header line marking a new app-server instance, so one
// trace can span restarts.
func (r *Recorder) Mark(client, instance string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_ = r.w.Write(Header{
		Format:    FormatCodex,
		Version:   "1.0",
		Client:    client,
		Instance:  instance,
		Timestamp: r.stamp(),
	})
}

// Record appends one line in the given direction.
func (r *Recorder) Record(direction string, line []byte) {
	if r == nil {
		return
	}
	msg := json.RawMessage(line)
	if !json.Valid(line) {
		quoted, _ := json.Marshal(string(line))
		msg = quoted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_ = r.w.Write(Entry{Timestamp: r.stamp(), Direction: direction, Message: msg})
}

// Tap adapts the recorder to a transport tap callback.
func (r *Recorder) Tap() func(direction string, line []byte) {
	return r.Record
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

func (r *Recorder) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}
