package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// ArchiveFactory returns the history a session's turns are mirrored into.
type ArchiveFactory func(userID, sessionID string) (schema.ChatMessageHistory, error)

// Registry owns the live sessions, keyed by user and session ID. Sessions share
// nothing but the Answerer.
type Registry struct {
	agent      Answerer
	newArchive ArchiveFactory
	opts       []Option
	log        *zap.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSessionOptions applies opts to every session the registry creates.
func WithSessionOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// WithArchiveFactory mirrors each session's turns into the history f returns.
func WithArchiveFactory(f ArchiveFactory) RegistryOption {
	return func(r *Registry) {
		r.newArchive = f
	}
}

// WithRegistryLogger sets the logger shared by the registry and its sessions.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRegistryClock replaces time.Now for idle-session sweeps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry whose sessions ask answerer.
func NewRegistry(answerer Answerer, opts ...RegistryOption) *Registry {
	r := &Registry{
		agent:    answerer,
		log:      zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("%s:%s", userID, sessionID)
}

// Get returns the live session, if any.
func (r *Registry) Get(userID, sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionKey(userID, sessionID)]
	return s, ok
}

// GetOrCreate returns the live session, creating it on first use.
func (r *Registry) GetOrCreate(userID, sessionID string) (*Session, error) {
	key := sessionKey(userID, sessionID)

	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	opts := append([]Option{WithLogger(r.log), WithClock(r.now)}, r.opts...)
	if r.newArchive != nil {
		archive, err := r.newArchive(userID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("create archive for session %s: %w", sessionID, err)
		}
		opts = append(opts, WithArchive(archive))
	}

	s = NewSession(userID, sessionID, r.agent, opts...)
	r.sessions[key] = s
	r.log.Info("Session created", zap.String("userID", userID), zap.String("sessionID", sessionID))
	return s, nil
}

// Delete tears the session down and clears its archived history. An answer
// still in flight is not archived. Deleting a session that is not live still
// clears the archive.
func (r *Registry) Delete(ctx context.Context, userID, sessionID string) error {
	key := sessionKey(userID, sessionID)

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		return s.close(ctx)
	}
	if r.newArchive == nil {
		return nil
	}
	archive, err := r.newArchive(userID, sessionID)
	if err != nil {
		return fmt.Errorf("open archive for session %s: %w", sessionID, err)
	}
	return archive.Clear(ctx)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep tears down sessions idle for longer than maxIdle. Sessions awaiting an
// answer are kept. The archive is left intact.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, s := range r.sessions {
		if s.State() == AwaitingResponse || s.LastActive().After(cutoff) {
			continue
		}
		delete(r.sessions, key)
		removed++
	}
	return removed
}

// StartSweeper runs Sweep every ttl/2 until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(ttl); n > 0 {
					r.log.Info("Idle sessions removed", zap.Int("count", n), zap.Int("live", r.Len()))
				}
			}
		}
	}()
}
