package session

import (
	"context"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/client"
)

// State is the lifecycle phase of an extraction session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Params describes one extraction run.
type Params struct {
	DocumentID string
	Pages      []int
	Engine     string
	Quality    string
}

// Result is the payload of a successful run.
type Result struct {
	Text         string
	PagesContent map[int]string
	WordCount    int
	Metadata     map[string]interface{}
}

// Progress is the last-write-wins progress snapshot surfaced to observers.
// CurrentPage is the most recent page number parsed out of a message; the
// full set of pages seen so far lives in Session.PagesDone.
type Progress struct {
	Percent     float64
	Message     string
	CurrentPage int
}

// EventStream is the slice of client.EventStream the session consumes.
type EventStream interface {
	Recv() (client.Event, error)
	Close() error
	SessionID() string
}

// OpenFunc connects to the backend and returns a live extraction stream.
type OpenFunc func(ctx context.Context, docID string, pages []int, engine, quality string) (EventStream, error)

// CancelFunc propagates a cancel request to the backend. Best effort; the
// session also aborts its own stream context.
type CancelFunc func(ctx context.Context, sessionID string) error

// Session runs one extraction at a time. Start returns immediately with the
// connection happening in the background; Cancel aborts a running extraction
// and is never reported as a failure. Events from a superseded run are
// discarded by generation check.
type Session struct {
	open    OpenFunc
	cancel  CancelFunc
	onEvent func(Progress)

	mu        sync.Mutex
	gen       int
	state     State
	progress  Progress
	pagesDone map[int]struct{}
	result    *Result
	err       *client.Error
	remoteID  string
	abort     context.CancelFunc
	done      chan struct{}
}

// New creates an idle Session. onEvent, if non-nil, is invoked with progress
// snapshots from the streaming goroutine; it must not block.
func New(open OpenFunc, cancel CancelFunc, onEvent func(Progress)) *Session {
	return &Session{open: open, cancel: cancel, onEvent: onEvent, state: StateIdle}
}

// looseExtractPage pulls a 1-based page number out of a human progress
// message. Matches "page 3", "pág. 5", "Processando página 7 de 24" and
// similar; absence of a match is fine, the page indicator just stays put.
var pageRe = regexp.MustCompile(`(?i)p[aá]g(?:e|ina)?\.?\s*(\d{1,6})`)

func looseExtractPage(message string) (int, bool) {
	m := pageRe.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Start begins a new extraction. Any previous run's late events are
// discarded. Returns an error only for invalid parameters or when a run is
// already in progress; connection failures surface through the terminal
// state instead.
func (s *Session) Start(params Params) error {
	if len(params.Pages) == 0 {
		return &client.Error{Kind: client.KindValidation, Message: "no pages selected"}
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return &client.Error{Kind: client.KindValidation, Message: "extraction already in progress"}
	}
	s.gen++
	gen := s.gen
	s.state = StateRunning
	s.progress = Progress{Message: "Starting extraction"}
	s.pagesDone = make(map[int]struct{})
	s.result = nil
	s.err = nil
	s.remoteID = ""
	s.done = make(chan struct{})
	done := s.done
	ctx, abort := context.WithCancel(context.Background())
	s.abort = abort
	s.mu.Unlock()

	go s.run(ctx, gen, params, done)
	return nil
}

func (s *Session) run(ctx context.Context, gen int, params Params, done chan struct{}) {
	stream, err := s.open(ctx, params.DocumentID, params.Pages, params.Engine, params.Quality)
	if err != nil {
		s.finish(gen, done, nil, err)
		return
	}
	defer stream.Close()

	s.mu.Lock()
	if gen == s.gen {
		s.remoteID = stream.SessionID()
	}
	s.mu.Unlock()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			// stream ended without a terminal frame; treat as transport loss
			s.finish(gen, done, nil, &client.Error{Kind: client.KindNetwork, Message: "stream ended unexpectedly"})
			return
		}
		if err != nil {
			s.finish(gen, done, nil, err)
			return
		}

		switch ev.Type {
		case "progress":
			s.applyProgress(gen, ev)
		case "result":
			s.finish(gen, done, resultFrom(ev), nil)
			return
		case "error":
			msg := ev.Error
			if msg == "" {
				msg = ev.Message
			}
			s.finish(gen, done, nil, &client.Error{Kind: client.KindUnknown, Message: msg})
			return
		default:
			// unknown frame types are skipped so the protocol can grow
		}
	}
}

func resultFrom(ev client.Event) *Result {
	res := &Result{Text: ev.Text, WordCount: ev.WordCount, Metadata: ev.Metadata}
	if len(ev.PagesContent) > 0 {
		res.PagesContent = make(map[int]string, len(ev.PagesContent))
		for k, v := range ev.PagesContent {
			if n, err := strconv.Atoi(k); err == nil {
				res.PagesContent[n] = v
			}
		}
	}
	return res
}

func (s *Session) applyProgress(gen int, ev client.Event) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	// last write wins; a stale page number never regresses the indicator
	s.progress.Percent = ev.Percent
	s.progress.Message = ev.Message
	if page, ok := looseExtractPage(ev.Message); ok {
		s.progress.CurrentPage = page
		s.pagesDone[page] = struct{}{}
	}
	snapshot := s.progress
	onEvent := s.onEvent
	s.mu.Unlock()

	if onEvent != nil {
		onEvent(snapshot)
	}
}

// finish resolves the run identified by gen. Late completions from a
// superseded or already-resolved run are dropped. Cancellation always wins
// over any error the aborted stream produces.
func (s *Session) finish(gen int, done chan struct{}, res *Result, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateRunning {
		// a cancelled run racing its own stream error lands here
		s.mu.Unlock()
		return
	}
	if err != nil {
		cerr := client.Classify(err)
		if cerr.Kind == client.KindCancelled {
			s.state = StateCancelled
		} else {
			if cerr.Kind == client.KindTimeout && cerr.Message != "" {
				cerr = &client.Error{
					Kind:    client.KindTimeout,
					Message: cerr.Message + "; try fewer pages or the fast engine",
					Err:     cerr,
				}
			}
			s.state = StateFailed
			s.err = cerr
		}
	} else {
		s.state = StateDone
		s.result = res
		s.progress.Percent = 100
	}
	s.abort = nil
	s.mu.Unlock()
	close(done)
}

// Cancel aborts a running extraction. It is a no-op in any other state and
// never produces an error outcome: the session lands in StateCancelled.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	abort := s.abort
	s.abort = nil
	remoteID := s.remoteID
	done := s.done
	cancel := s.cancel
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	if cancel != nil && remoteID != "" {
		if err := cancel(ctx, remoteID); err != nil {
			log.Warn().Err(err).Str("session_id", remoteID).Msg("backend cancel failed")
		}
	}
	close(done)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the latest progress snapshot.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// PagesDone returns the sorted pages reported completed by progress messages
// during the current run. Best effort: a message the heuristic misses simply
// leaves the set as it was.
func (s *Session) PagesDone() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pagesDone))
	for p := range s.pagesDone {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Result returns the extraction result once StateDone is reached.
func (s *Session) Result() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// Err returns the classified failure once StateFailed is reached. Cancelled
// sessions have no error.
func (s *Session) Err() *client.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel closed when the current run reaches a terminal
// state. Nil before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// RemoteID returns the backend session identifier, when known.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}
