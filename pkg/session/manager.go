package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type contextKey string

const contextKeySession = contextKey("session")

// Config controls cookies and lifetimes.
type Config struct {
	CookieName string

	// Lifetime is the server side lifetime of a browser-session cookie.
	Lifetime time.Duration

	// PersistentLifetime applies to sessions marked persistent ("remember me").
	PersistentLifetime time.Duration

	Secure bool

	// CleanupInterval is how often expired rows are purged. Zero disables the loop.
	CleanupInterval time.Duration
}

// DefaultConfig returns two-week browser sessions and thirty-day remembered sessions.
func DefaultConfig() Config {
	return Config{
		CookieName:         "webgen_session",
		Lifetime:           14 * 24 * time.Hour,
		PersistentLifetime: 30 * 24 * time.Hour,
		CleanupInterval:    10 * time.Minute,
	}
}

// Manager loads and commits sessions around HTTP handlers.
type Manager struct {
	store  *Store
	config Config
	logger *slog.Logger
	now    func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewManager creates a Manager and, when configured, starts the cleanup loop.
// Call Stop to end it.
func NewManager(store *Store, config Config, logger *slog.Logger) *Manager {
	m := &Manager{
		store:     store,
		config:    config,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go m.cleanupLoop()
	} else {
		close(m.stoppedCh)
	}
	return m
}

// Stop ends the cleanup loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.stoppedCh
}

func (m *Manager) cleanupLoop() {
	defer close(m.stoppedCh)
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			n, err := m.store.DeleteExpired(context.Background(), m.now())
			if err != nil {
				m.logger.Error("Session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("Removed expired sessions", "count", n)
			}
		}
	}
}

// FromContext returns the session attached by Middleware. It never returns nil;
// outside of the middleware a throwaway session is returned.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextKeySession).(*Session); ok {
		return s
	}
	return newSession()
}

// Middleware attaches the session to the request context and commits it before
// the response is written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)
		ctx := context.WithValue(r.Context(), contextKeySession, sess)
		sw := &responseWriter{ResponseWriter: w}
		sw.commit = func() { m.commit(r.Context(), w, sess) }

		next.ServeHTTP(sw, r.WithContext(ctx))
		sw.once.Do(sw.commit)
	})
}

func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil || cookie.Value == "" {
		return newSession()
	}
	sess, err := m.store.Load(r.Context(), cookie.Value, m.now())
	if err != nil {
		m.logger.Error("Failed to load session", "error", err)
		return newSession()
	}
	if sess == nil {
		return newSession()
	}
	return sess
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.modified {
		return
	}

	if sess.destroyed {
		for _, id := range []string{sess.id, sess.oldID} {
			if id == "" {
				continue
			}
			if err := m.store.Delete(ctx, id); err != nil {
				m.logger.Error("Failed to delete session", "error", err)
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     m.config.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.config.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		return
	}

	if sess.id == "" {
		id, err := newID()
		if err != nil {
			m.logger.Error("Failed to create session id", "error", err)
			return
		}
		sess.id = id
	}

	lifetime := m.config.Lifetime
	if sess.persistent {
		lifetime = m.config.PersistentLifetime
	}
	sess.expiresAt = m.now().Add(lifetime)

	if err := m.store.Save(ctx, sess.id, sess.values, sess.persistent, sess.expiresAt); err != nil {
		m.logger.Error("Failed to save session", "error", err)
		return
	}
	if sess.oldID != "" {
		if err := m.store.Delete(ctx, sess.oldID); err != nil {
			m.logger.Error("Failed to delete renewed session", "error", err)
		}
		sess.oldID = ""
	}

	cookie := &http.Cookie{
		Name:     m.config.CookieName,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if sess.persistent {
		cookie.MaxAge = int(lifetime.Seconds())
		cookie.Expires = sess.expiresAt
	}
	http.SetCookie(w, cookie)
	sess.modified = false
}

// responseWriter commits the session on the first header write.
type responseWriter struct {
	http.ResponseWriter
	commit func()
	once   sync.Once
}

func (w *responseWriter) WriteHeader(code int) {
	w.once.Do(w.commit)
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.once.Do(w.commit)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	w.once.Do(w.commit)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
