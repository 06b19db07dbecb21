package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/sshconn"
)

// Dialer establishes an SSH shell for the given credentials. The default
// wraps sshconn.Dial; tests substitute fakes.
type Dialer func(ctx context.Context, auth sshconn.Auth) (Shell, error)

// DefaultDialer returns a Dialer backed by the real SSH adapter.
func DefaultDialer(cfg sshconn.Config, logger *slog.Logger) Dialer {
	return func(ctx context.Context, auth sshconn.Auth) (Shell, error) {
		return sshconn.Dial(ctx, auth, cfg, logger)
	}
}

// Registry holds all live sessions keyed by unique name. Creation reserves
// the name before dialing, so two concurrent connects for the same name
// cannot both succeed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	reserved map[string]struct{}

	dial   Dialer
	cfg    Config
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(dial Dialer, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		reserved: make(map[string]struct{}),
		dial:     dial,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create dials the host and registers a new session under name. The name
// must be unused; credential failures map to auth-failed, everything else
// about the dial to unreachable.
func (r *Registry) Create(ctx context.Context, name string, auth sshconn.Auth) (*Session, *Error) {
	if name == "" {
		return nil, NewError(KindMissingParams, "session name is required")
	}
	if auth.Host == "" || auth.Username == "" {
		return nil, NewError(KindMissingParams, "host and username are required")
	}

	r.mu.Lock()
	if _, ok := r.sessions[name]; ok {
		r.mu.Unlock()
		return nil, NewError(KindExists, "session %q already exists", name)
	}
	if _, ok := r.reserved[name]; ok {
		r.mu.Unlock()
		return nil, NewError(KindExists, "session %q is being created", name)
	}
	r.reserved[name] = struct{}{}
	r.mu.Unlock()

	s, serr := r.connect(ctx, name, auth)

	r.mu.Lock()
	delete(r.reserved, name)
	if serr == nil {
		r.sessions[name] = s
	}
	r.mu.Unlock()

	if serr != nil {
		SessionsTotal.WithLabelValues(string(serr.Kind)).Inc()
		return nil, serr
	}
	SessionsTotal.WithLabelValues("connected").Inc()

	// Self-remove on transport loss so lists stay accurate.
	go func() {
		<-s.Done()
		r.remove(name, s)
	}()

	r.logger.Info("session created",
		logging.KeySession, name,
		logging.KeyHost, auth.Host,
		logging.KeyUsername, auth.Username)
	return s, nil
}

func (r *Registry) connect(ctx context.Context, name string, auth sshconn.Auth) (*Session, *Error) {
	shell, err := r.dial(ctx, auth)
	if err != nil {
		if sshconn.IsAuthError(err) {
			return nil, NewError(KindAuthFailed, "authentication failed for %s@%s: %v",
				auth.Username, auth.Host, err)
		}
		return nil, NewError(KindUnreachable, "cannot reach %s: %v", auth.Addr(), err)
	}

	s := New(name, auth, shell, r.cfg, r.logger)
	s.Start()

	if serr := s.WaitReady(ctx); serr != nil {
		s.Close()
		return nil, serr
	}
	return s, nil
}

// Get returns the named session or not-found.
func (r *Registry) Get(name string) (*Session, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[name]
	if !ok {
		return nil, NewError(KindNotFound, "no session named %q", name)
	}
	return s, nil
}

// List returns summaries of all sessions, sorted by name.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Dispose closes and removes the named session.
func (r *Registry) Dispose(name string) *Error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if !ok {
		return NewError(KindNotFound, "no session named %q", name)
	}
	s.Close()
	r.logger.Info("session disposed", logging.KeySession, name)
	return nil
}

// remove drops a session that closed on its own (transport loss).
func (r *Registry) remove(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[name]; ok && cur == s {
		delete(r.sessions, name)
	}
}

// CloseAll disposes every session, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
