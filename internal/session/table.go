package session

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/shell"
)

// ErrDuplicateSession is returned by Create when the id is already live in
// the table.
var ErrDuplicateSession = errors.New("duplicate session id")

// DuplicateMessage is the client-facing text for ErrDuplicateSession.
const DuplicateMessage = "Duplicate session ID."

// Table holds the live sessions of one client connection. Only pending and
// connected sessions are reachable; a session leaves the table in the same
// step that makes it terminal.
type Table struct {
	connID   string
	notifier Notifier
	opts     shell.Options
	newShell func(h shell.Handler) remoteShell

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable creates an empty table for the connection connID. Notifications
// for every session go to n; opts configure each session's adapter.
func NewTable(connID string, n Notifier, opts shell.Options) *Table {
	t := &Table{
		connID:   connID,
		notifier: n,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
	t.newShell = func(h shell.Handler) remoteShell { return shell.New(h, t.opts) }
	return t
}

// ConnID returns the owning connection's id.
func (t *Table) ConnID() string { return t.connID }

// Create inserts a pending session and starts connecting it. A live id is
// rejected with ErrDuplicateSession whatever the credentials; malformed
// credentials are rejected next. Neither changes the table.
func (t *Table) Create(id string, creds shell.Credentials) (*Session, error) {
	if t.Lookup(id) != nil {
		return nil, ErrDuplicateSession
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	// Checked again: the id may have been taken while validating.
	if _, exists := t.sessions[id]; exists {
		t.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	s := newSession(id, t.connID, creds, t.notifier, t.remove)
	t.sessions[id] = s
	t.mu.Unlock()

	if err := s.start(t.newShell(events{s}), creds); err != nil {
		t.remove(s)
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return nil, fmt.Errorf("open session %s: %w", logutil.SanitizeForLog(id), err)
	}
	return s, nil
}

// Lookup returns the live session for id, or nil.
func (t *Table) Lookup(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// RemoveAndClose removes id and disconnects it. A miss is not an error.
func (t *Table) RemoveAndClose(id string) {
	t.mu.Lock()
	s := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if s != nil {
		s.Disconnect()
	}
}

// CloseAll disconnects every session without notifying the client. It is
// used when the client connection itself is gone.
func (t *Table) CloseAll() {
	t.mu.Lock()
	all := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	clear(t.sessions)
	t.mu.Unlock()

	for _, s := range all {
		s.Disconnect()
	}
	if len(all) > 0 {
		log.Printf("[session] conn %s: closed %d sessions", t.connID, len(all))
	}
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// IDs returns the live session ids, sorted.
func (t *Table) IDs() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// remove drops s only if it is still the entry for its id, so a stale
// session never evicts a newer one that reused the id.
func (t *Table) remove(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[s.id] == s {
		delete(t.sessions, s.id)
	}
}
