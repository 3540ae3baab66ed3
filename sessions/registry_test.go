package sessions

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// chanWriter records events and can be told to start failing.
type chanWriter struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (w *chanWriter) WriteEvent(event string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broken pipe")
	}
	w.events = append(w.events, event)
	return nil
}

func (w *chanWriter) count(event string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, e := range w.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestRegistry(opts ...Option) *Registry {
	opts = append([]Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithHeartbeatInterval(0),
	}, opts...)
	return NewRegistry(opts...)
}

func TestOpenGeneratesIDWhenEmpty(t *testing.T) {
	reg := newTestRegistry()
	defer reg.CloseAll()

	sess := reg.Open("", &chanWriter{})
	if sess.ID() == "" {
		t.Fatal("expected a generated session id")
	}
	if !reg.Has(sess.ID()) {
		t.Error("generated id should be registered")
	}
}

func TestOpenHonorsSuppliedID(t *testing.T) {
	reg := newTestRegistry()
	defer reg.CloseAll()

	sess := reg.Open("client-chosen", &chanWriter{})
	if sess.ID() != "client-chosen" {
		t.Errorf("id = %q, want %q", sess.ID(), "client-chosen")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestOpenReplacesStaleEntry(t *testing.T) {
	reg := newTestRegistry()
	defer reg.CloseAll()

	first := reg.Open("dup", &chanWriter{})
	second := reg.Open("dup", &chanWriter{})

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("stale session was not closed on replacement")
	}
	select {
	case <-second.Done():
		t.Fatal("fresh session must stay open")
	default:
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestSendDeliversToChannel(t *testing.T) {
	reg := newTestRegistry()
	defer reg.CloseAll()

	w := &chanWriter{}
	sess := reg.Open("", w)

	if err := reg.Send(sess.ID(), "message", []byte(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := w.count("message"); got != 1 {
		t.Errorf("delivered %d message events, want 1", got)
	}
}

func TestSendAfterCloseIsNotFound(t *testing.T) {
	reg := newTestRegistry()

	sess := reg.Open("", &chanWriter{})
	reg.Close(sess.ID())

	err := reg.Send(sess.ID(), "message", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSendWriteFailureTearsDownSession(t *testing.T) {
	reg := newTestRegistry()

	w := &chanWriter{fail: true}
	sess := reg.Open("", w)

	if err := reg.Send(sess.ID(), "message", nil); err == nil {
		t.Fatal("expected write error")
	}
	if reg.Has(sess.ID()) {
		t.Error("failed session should have been removed")
	}
	select {
	case <-sess.Done():
	default:
		t.Error("failed session should be marked done")
	}
}

// hookWriter runs a caller-supplied hook on every write, so a test can
// interleave registry calls with the write itself.
type hookWriter struct {
	onWrite func() error
}

func (w *hookWriter) WriteEvent(event string, data []byte) error {
	if w.onWrite != nil {
		return w.onWrite()
	}
	return nil
}

func TestSendFailureSparesReplacementSession(t *testing.T) {
	reg := newTestRegistry()
	defer reg.CloseAll()

	// A reconnect lands under the same id between the Send lookup and the
	// stale channel's failed write. Teardown must hit the stale session only.
	var replacement *Session
	w := &hookWriter{}
	stale := reg.Open("shared", w)
	w.onWrite = func() error {
		replacement = reg.Open("shared", &chanWriter{})
		return errors.New("broken pipe")
	}

	if err := reg.Send("shared", "message", nil); err == nil {
		t.Fatal("expected write error")
	}
	if !reg.Has("shared") {
		t.Fatal("replacement session was unregistered by the stale session's failure path")
	}
	select {
	case <-replacement.Done():
		t.Error("replacement session must stay open")
	default:
	}
	select {
	case <-stale.Done():
	default:
		t.Error("stale session should be closed")
	}
	if err := reg.Send("shared", "message", nil); err != nil {
		t.Errorf("replacement channel should still deliver, got %v", err)
	}
}

func TestHeartbeatFailureSparesReplacementSession(t *testing.T) {
	reg := newTestRegistry(WithHeartbeatInterval(5 * time.Millisecond))
	defer reg.CloseAll()

	var mu sync.Mutex
	var replacement *Session
	w := &hookWriter{}
	stale := reg.Open("shared", w)
	w.onWrite = func() error {
		mu.Lock()
		defer mu.Unlock()
		if replacement == nil {
			replacement = reg.Open("shared", &chanWriter{})
		}
		return errors.New("broken pipe")
	}

	select {
	case <-stale.Done():
	case <-time.After(time.Second):
		t.Fatal("failed heartbeat should tear the stale session down")
	}

	mu.Lock()
	repl := replacement
	mu.Unlock()
	if repl == nil {
		t.Fatal("hook never ran")
	}
	if !reg.Has("shared") {
		t.Fatal("replacement session was unregistered by the stale heartbeat's failure path")
	}
	select {
	case <-repl.Done():
		t.Error("replacement session must stay open")
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	reg := newTestRegistry()

	sess := reg.Open("", &chanWriter{})
	reg.Close(sess.ID())
	reg.Close(sess.ID())
	reg.Close("never-opened")

	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}

func TestHeartbeatPingsUntilFailure(t *testing.T) {
	reg := newTestRegistry(WithHeartbeatInterval(5 * time.Millisecond))

	w := &chanWriter{}
	sess := reg.Open("", w)

	deadline := time.After(time.Second)
	for w.count("ping") < 2 {
		select {
		case <-deadline:
			t.Fatal("never saw two pings")
		case <-time.After(time.Millisecond):
		}
	}

	w.mu.Lock()
	w.fail = true
	w.mu.Unlock()

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("failed heartbeat should tear the session down")
	}
	if reg.Has(sess.ID()) {
		t.Error("session should be removed after heartbeat failure")
	}
}

func TestCloseAllDrainsRegistry(t *testing.T) {
	reg := newTestRegistry()

	a := reg.Open("", &chanWriter{})
	b := reg.Open("", &chanWriter{})
	reg.CloseAll()

	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
	for _, sess := range []*Session{a, b} {
		select {
		case <-sess.Done():
		default:
			t.Errorf("session %s still open after CloseAll", sess.ID())
		}
	}
}
