package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Event is one frame of an extraction stream.
type Event struct {
	Type         string                 `json:"type"`
	Percent      float64                `json:"percent,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Text         string                 `json:"text,omitempty"`
	WordCount    int                    `json:"word_count,omitempty"`
	PagesContent map[string]string      `json:"pages_content,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == "result" || e.Type == "error"
}

// EventStream reads server-sent extraction events. Recv blocks until the
// next event; after a terminal event or Close, further Recv calls return
// io.EOF.
type EventStream struct {
	sessionID string
	body      io.ReadCloser
	scanner   *bufio.Scanner

	mu     sync.Mutex
	closed bool
	done   bool
}

func newEventStream(body io.ReadCloser, sessionID string) *EventStream {
	sc := bufio.NewScanner(body)
	// result frames carry the full extracted text in one line
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &EventStream{sessionID: sessionID, body: body, scanner: sc}
}

// SessionID returns the backend session identifier for this extraction,
// usable with CancelSession.
func (s *EventStream) SessionID() string { return s.sessionID }

// Recv returns the next event. io.EOF means the stream ended cleanly after a
// terminal event; any other error is classified transport failure.
func (s *EventStream) Recv() (Event, error) {
	s.mu.Lock()
	if s.closed || s.done {
		s.mu.Unlock()
		return Event{}, io.EOF
	}
	s.mu.Unlock()

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return Event{}, Classify(fmt.Errorf("malformed stream frame: %w", err))
		}
		if ev.Terminal() {
			s.mu.Lock()
			s.done = true
			s.mu.Unlock()
		}
		return ev, nil
	}

	if err := s.scanner.Err(); err != nil {
		// a stream that dies mid-extraction is a transport failure, but a
		// close on our own side is expected
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}
		return Event{}, Classify(err)
	}
	return Event{}, io.EOF
}

// Close releases the underlying connection. Idempotent.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.body.Close()
}
