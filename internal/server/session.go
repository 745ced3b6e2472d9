package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionCookie carries the session ID between requests.
const sessionCookie = "subs_session"

// Session holds the per-browser provider state. Mail tokens live in the
// connection store; the session only points at the connection in use.
type Session struct {
	CreatedAt     time.Time `json:"createdAt"`
	ID            string    `json:"id"`
	ConnectionID  string    `json:"connectionId,omitempty"`
	PlaidToken    string    `json:"-"`
	RequisitionID string    `json:"requisitionId,omitempty"`
}

// SessionStore is an in-memory session table with expiry.
type SessionStore struct {
	sessions map[string]*Session
	now      func() time.Time
	ttl      time.Duration
	mu       sync.Mutex
}

// NewSessionStore creates an empty store.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		ttl:      ttl,
	}
}

// Create starts a new session.
func (s *SessionStore) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{ID: uuid.NewString(), CreatedAt: s.now()}
	s.sessions[sess.ID] = sess
	s.sweep()
	return sess
}

// Get returns a copy of the session, or false when unknown or expired.
func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess) {
		return Session{}, false
	}
	return *sess, true
}

// Update applies fn to the stored session.
func (s *SessionStore) Update(id string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess) {
		return false
	}
	fn(sess)
	return true
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.sessions)
}

func (s *SessionStore) expired(sess *Session) bool {
	return s.now().Sub(sess.CreatedAt) > s.ttl
}

// sweep drops expired sessions. Callers hold mu.
func (s *SessionStore) sweep() {
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
		}
	}
}

type sessionKey struct{}

// withSession resolves the session from the cookie, starting one when the
// cookie is missing or stale.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(sessionCookie); err == nil {
			if sess, ok := s.sessions.Get(c.Value); ok {
				id = sess.ID
			}
		}
		if id == "" {
			id = s.sessions.Create().ID
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   r.TLS != nil,
				MaxAge:   int(s.opts.SessionTTL.Seconds()),
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}

func (s *Server) session(r *http.Request) Session {
	sess, _ := s.sessions.Get(sessionID(r))
	return sess
}
