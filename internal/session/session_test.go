package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/local/docextract/internal/client"
)

// scriptStream replays a fixed list of events, then blocks until closed.
type scriptStream struct {
	id     string
	events []client.Event
	err    error
	hold   chan struct{}
	ctx    context.Context
}

func (s *scriptStream) SessionID() string { return s.id }
func (s *scriptStream) Close() error      { return nil }

func (s *scriptStream) Recv() (client.Event, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	if s.err != nil {
		return client.Event{}, s.err
	}
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-s.ctx.Done():
			return client.Event{}, s.ctx.Err()
		}
	}
	return client.Event{}, io.EOF
}

func openWith(stream *scriptStream) OpenFunc {
	return func(ctx context.Context, docID string, pages []int, engine, quality string) (EventStream, error) {
		stream.ctx = ctx
		return stream, nil
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not reach a terminal state")
	}
}

func TestSession_SuccessfulRun(t *testing.T) {
	stream := &scriptStream{
		id: "sess-1",
		events: []client.Event{
			{Type: "progress", Percent: 33, Message: "Extracting page 1 of 3"},
			{Type: "progress", Percent: 40, Message: "still working"},
			{Type: "progress", Percent: 66, Message: "Extracting page 2 of 3"},
			{Type: "result", Text: "alpha beta", WordCount: 2, PagesContent: map[string]string{"1": "alpha", "2": "beta"}},
		},
	}
	var updates []Progress
	s := New(openWith(stream), nil, func(p Progress) { updates = append(updates, p) })

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{1, 2}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateDone {
		t.Fatalf("State() = %v, want done", got)
	}
	res, ok := s.Result()
	if !ok || res.Text != "alpha beta" || res.WordCount != 2 {
		t.Errorf("Result() = %+v", res)
	}
	if res.PagesContent[2] != "beta" {
		t.Errorf("PagesContent = %v, want numeric page keys", res.PagesContent)
	}
	if len(updates) != 3 {
		t.Fatalf("got %d progress updates, want 3", len(updates))
	}
	// a message with no page reference keeps the previous page indicator
	if updates[1].CurrentPage != 1 || updates[1].Percent != 40 {
		t.Errorf("pageless update = %+v, want page 1 kept at 40%%", updates[1])
	}
	if updates[2].CurrentPage != 2 || updates[2].Percent != 66 {
		t.Errorf("last update = %+v, want page 2 at 66%%", updates[2])
	}
	if got := s.PagesDone(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("PagesDone() = %v, want [1 2]", got)
	}
	if got := s.Progress(); got.Percent != 100 {
		t.Errorf("final Percent = %v, want 100", got.Percent)
	}
}

func TestSession_CancelIsNeverAnError(t *testing.T) {
	stream := &scriptStream{id: "sess-2", hold: make(chan struct{})}
	var cancelledRemote string
	cancel := func(ctx context.Context, sessionID string) error {
		cancelledRemote = sessionID
		return nil
	}
	s := New(openWith(stream), cancel, nil)

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{1}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// give the goroutine time to connect and record the remote id
	deadline := time.Now().Add(2 * time.Second)
	for s.RemoteID() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Cancel(context.Background())
	waitDone(t, s)

	if got := s.State(); got != StateCancelled {
		t.Fatalf("State() = %v, want cancelled", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v after cancel, want nil", err)
	}
	if cancelledRemote != "sess-2" {
		t.Errorf("backend cancel got session %q, want sess-2", cancelledRemote)
	}

	// idempotent
	s.Cancel(context.Background())
	if got := s.State(); got != StateCancelled {
		t.Errorf("State() = %v after double cancel", got)
	}
}

func TestSession_LateEventsFromSupersededRunAreDiscarded(t *testing.T) {
	first := &scriptStream{id: "old", hold: make(chan struct{})}
	s := New(openWith(first), nil, nil)

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{1}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Cancel(context.Background())
	waitDone(t, s)

	second := &scriptStream{
		id: "new",
		events: []client.Event{
			{Type: "progress", Percent: 10, Message: "page 1"},
		},
		hold: make(chan struct{}),
	}
	s.open = openWith(second)
	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{1}}); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// the first run's stream now errors out; its terminal report must not
	// disturb the active run
	close(first.hold)
	time.Sleep(50 * time.Millisecond)

	if got := s.State(); got != StateRunning {
		t.Errorf("State() = %v, want the new run still running", got)
	}
	s.Cancel(context.Background())
}

// lateStream holds its events back until released, so they arrive only after
// the session has been cancelled.
type lateStream struct {
	id      string
	release chan struct{}
	events  []client.Event
}

func (s *lateStream) SessionID() string { return s.id }
func (s *lateStream) Close() error      { return nil }

func (s *lateStream) Recv() (client.Event, error) {
	<-s.release
	if len(s.events) == 0 {
		return client.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func TestSession_EventsAfterCancelDoNotMutateState(t *testing.T) {
	stream := &lateStream{
		id:      "sess-late",
		release: make(chan struct{}),
		events: []client.Event{
			{Type: "progress", Percent: 90, Message: "Extracting page 9 of 9"},
			{Type: "result", Text: "too late", WordCount: 2},
		},
	}
	open := func(ctx context.Context, docID string, pages []int, engine, quality string) (EventStream, error) {
		return stream, nil
	}
	s := New(open, nil, nil)

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{9}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.RemoteID() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Cancel(context.Background())
	before := s.Progress()
	close(stream.release)
	time.Sleep(50 * time.Millisecond)

	if got := s.State(); got != StateCancelled {
		t.Fatalf("State() = %v, want cancelled", got)
	}
	if got := s.Progress(); got != before {
		t.Errorf("Progress() = %+v changed after cancel, was %+v", got, before)
	}
	if got := s.PagesDone(); len(got) != 0 {
		t.Errorf("PagesDone() = %v after cancel, want empty", got)
	}
	if _, ok := s.Result(); ok {
		t.Error("Result() present after cancel")
	}
}

func TestSession_TimeoutGetsRemediation(t *testing.T) {
	stream := &scriptStream{id: "sess-3", err: context.DeadlineExceeded}
	s := New(openWith(stream), nil, nil)

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{1, 2, 3}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateFailed {
		t.Fatalf("State() = %v, want failed", got)
	}
	err := s.Err()
	if err == nil || err.Kind != client.KindTimeout {
		t.Fatalf("Err() = %v, want timeout", err)
	}
	if !strings.Contains(err.Message, "fewer pages") {
		t.Errorf("timeout message %q lacks remediation hint", err.Message)
	}
}

func TestSession_ServerErrorFrame(t *testing.T) {
	stream := &scriptStream{
		id:     "sess-4",
		events: []client.Event{{Type: "error", Error: "extraction failed on page 2"}},
	}
	s := New(openWith(stream), nil, nil)

	if err := s.Start(Params{DocumentID: "doc1", Pages: []int{2}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateFailed {
		t.Fatalf("State() = %v, want failed", got)
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Message, "page 2") {
		t.Errorf("Err() = %v", err)
	}
}

func TestSession_StartValidation(t *testing.T) {
	s := New(openWith(&scriptStream{}), nil, nil)
	err := s.Start(Params{DocumentID: "doc1"})
	var cerr *client.Error
	if !errors.As(err, &cerr) || cerr.Kind != client.KindValidation {
		t.Errorf("Start with no pages = %v, want validation error", err)
	}
}

func TestLooseExtractPage(t *testing.T) {
	cases := []struct {
		msg  string
		want int
		ok   bool
	}{
		{"Extracting page 3 of 10", 3, true},
		{"Processando página 7 de 24", 7, true},
		{"pág. 5", 5, true},
		{"PAGE 12", 12, true},
		{"halfway there", 0, false},
		{"pages remaining: 4", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := looseExtractPage(tc.msg)
		if got != tc.want || ok != tc.ok {
			t.Errorf("looseExtractPage(%q) = (%d, %v), want (%d, %v)", tc.msg, got, ok, tc.want, tc.ok)
		}
	}
}
