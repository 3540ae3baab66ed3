// Package sessions owns the process-wide mapping from streaming session
// identifiers to open delivery channels. All mutation goes through Open,
// Send, and Close; no other component holds a channel handle.
package sessions

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session identifier was never opened
// or its channel has already closed.
var ErrSessionNotFound = errors.New("session not found")

// EventWriter delivers one framed event on a session's channel. Writes must
// be safe for concurrent use; the SSE adapter satisfies this with a locked
// flusher.
type EventWriter interface {
	WriteEvent(event string, data []byte) error
}

// Session is a registry entry: an identifier bound to at most one live
// channel. The heartbeat goroutine is owned exclusively by the session and is
// torn down exactly once, on whichever of explicit close or failed write
// happens first.
type Session struct {
	id        string
	w         EventWriter
	createdAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the channel was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the slog logger used by the registry.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithHeartbeatInterval sets the ping cadence. Zero or negative disables
// heartbeats entirely (used by tests).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Registry) { r.heartbeat = d }
}

// Registry is the mutable session table shared across concurrent session
// lifecycles. A mutex guards insert/lookup/delete; channel writes happen
// outside the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	heartbeat time.Duration
	log       *slog.Logger
}

// NewRegistry constructs an empty Registry with a 30s heartbeat default.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		heartbeat: 30 * time.Second,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open registers a new session over the given channel and starts its
// heartbeat. When id is empty a fresh identifier is generated. Opening an id
// that is already live replaces the stale entry, which is closed first.
func (r *Registry) Open(id string, w EventWriter) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	sess := &Session{
		id:        id,
		w:         w,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = sess
	r.mu.Unlock()

	if prev != nil {
		prev.close()
		r.log.Warn("session.open.replaced", slog.String("session_id", id))
	}

	if r.heartbeat > 0 {
		go r.heartbeatLoop(sess)
	}

	r.log.Info("session.open", slog.String("session_id", id))
	return sess
}

// Send writes one framed event to the identified session's channel. A write
// failure tears the session down and is reported to the caller; looking up a
// closed or never-opened id yields ErrSessionNotFound.
func (r *Registry) Send(id string, event string, data []byte) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := sess.w.WriteEvent(event, data); err != nil {
		r.log.Warn("session.write.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		r.closeSession(sess)
		return err
	}
	return nil
}

// Close tears down the identified session: the registry entry is removed and
// the heartbeat cancelled. Closing an unknown or already-closed id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.close()
	r.log.Info("session.close", slog.String("session_id", id), slog.Duration("age", time.Since(sess.createdAt)))
}

// closeSession tears down exactly the given session. The map entry is removed
// only while this session still owns it: a failure on a stale session racing a
// reconnect under the same id must not evict the live replacement.
func (r *Registry) closeSession(sess *Session) {
	r.mu.Lock()
	owned := r.sessions[sess.id] == sess
	if owned {
		delete(r.sessions, sess.id)
	}
	r.mu.Unlock()

	sess.close()
	if owned {
		r.log.Info("session.close", slog.String("session_id", sess.id), slog.Duration("age", time.Since(sess.createdAt)))
	}
}

// CloseAll tears down every live session. Called on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range all {
		sess.close()
	}
}

// Has reports whether the identifier maps to a live channel.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// heartbeatLoop writes a ping frame on a fixed cadence until the session is
// closed. A failed ping is treated as implicit closure.
func (r *Registry) heartbeatLoop(sess *Session) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case t := <-ticker.C:
			if err := sess.w.WriteEvent("ping", []byte(t.UTC().Format(time.RFC3339))); err != nil {
				r.log.Info("session.heartbeat.fail", slog.String("session_id", sess.id), slog.String("err", err.Error()))
				r.closeSession(sess)
				return
			}
		}
	}
}
