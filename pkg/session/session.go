// Package session provides SQLite-backed, cookie-addressed server side sessions.
//
// A Manager wraps an http.Handler, loads the session named by the request cookie
// (or starts an empty one) and makes it available through FromContext. Changes are
// committed, row and cookie alike, right before the first byte of the response is
// written, so handlers never have to save explicitly.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const userIDKey = "_auth_user_id"

// Session is the per-request view of a stored session. It is safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	id         string
	oldID      string
	values     map[string]string
	persistent bool
	expiresAt  time.Time
	modified   bool
	destroyed  bool
}

func newSession() *Session {
	return &Session{values: make(map[string]string)}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.modified = true
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

// Pop returns a value and removes it from the session.
func (s *Session) Pop(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if ok {
		delete(s.values, key)
		s.modified = true
	}
	return v, ok
}

func (s *Session) GetInt64(key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Session) SetInt64(key string, n int64) {
	s.Set(key, strconv.FormatInt(n, 10))
}

// UserID returns the id of the signed in user, if any.
func (s *Session) UserID() (int64, bool) {
	return s.GetInt64(userIDKey)
}

// Login stores the user id and rotates the session id.
func (s *Session) Login(userID int64) error {
	if err := s.Renew(); err != nil {
		return err
	}
	s.SetInt64(userIDKey, userID)
	return nil
}

// SetPersistent chooses between a cookie that survives browser restarts and
// one that is dropped when the browser closes.
func (s *Session) SetPersistent(persistent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent = persistent
	s.modified = true
}

// Renew gives the session a new id while keeping its values. The old row is
// removed on commit.
func (s *Session) Renew() error {
	id, err := newID()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oldID == "" {
		s.oldID = s.id
	}
	s.id = id
	s.modified = true
	return nil
}

// Destroy clears every value and expires the cookie.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	s.destroyed = true
	s.modified = true
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
