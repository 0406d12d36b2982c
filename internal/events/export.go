package events

import (
	"io"
	"sync"
)

// StreamEmitter writes each event as one JSON line to an io.Writer. It is
// safe for concurrent use and suitable for piping a run's event log to a
// file or another process.
type StreamEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamEmitter returns a StreamEmitter writing to w.
func NewStreamEmitter(w io.Writer) *StreamEmitter {
	return &StreamEmitter{w: w}
}

// Emit writes the event as a single JSON line. Serialization failures are
// dropped; event export must never interrupt a run.
func (s *StreamEmitter) Emit(event *Event) {
	data, err := event.JSON()
	if err != nil {
		return
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(data)
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(event *Event) {
	for _, e := range f {
		e.Emit(event)
	}
}
