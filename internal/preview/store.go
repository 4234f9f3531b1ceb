// Package preview holds uploaded-but-unconfirmed bundles behind time-limited
// session handles, so a caller can inspect match suggestions before the
// transactional import happens at confirm time.
package preview

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucasmv/chatvault/internal/bus"
	"go.uber.org/zap"
)

var (
	// ErrNotFound covers unknown session ids and sessions owned by a
	// different caller; the two are indistinguishable on purpose.
	ErrNotFound = errors.New("preview session not found")
	// ErrExpired means the session outlived its TTL; its staged bundle has
	// already been released.
	ErrExpired = errors.New("preview session expired")
)

// Session is one staged upload awaiting confirmation. The session owns the
// staged bundle file until it is claimed or destroyed.
type Session struct {
	ID         string
	OwnerID    string
	BundlePath string
	CreatedAt  time.Time
	ExpiresAt  time.Time

	mu       sync.Mutex
	released bool
}

// release removes the staged bundle exactly once.
func (s *Session) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return os.Remove(s.BundlePath)
}

// Release removes the session's staged bundle. Idempotent; used by callers
// that claimed the session and finished with it.
func (s *Session) Release() error { return s.release() }

// Store tracks preview sessions keyed by unguessable id. Operations on
// distinct sessions never contend beyond the map lock; per-session state has
// its own mutex.
type Store struct {
	ttl           time.Duration
	sweepInterval time.Duration
	bus           *bus.Bus
	logger        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	cancel context.CancelFunc
	now    func() time.Time // overridable in tests
}

// NewStore creates a session store with the given TTL and sweep interval.
func NewStore(ttl, sweepInterval time.Duration, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		bus:           b,
		logger:        logger,
		sessions:      make(map[string]*Session),
		now:           time.Now,
	}
}

// Create registers a staged bundle under a fresh session id.
func (st *Store) Create(ownerID, bundlePath string) *Session {
	now := st.now()
	s := &Session{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		BundlePath: bundlePath,
		CreatedAt:  now,
		ExpiresAt:  now.Add(st.ttl),
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.bus.Publish(bus.Event{Kind: bus.KindPreviewCreated, Payload: s.ID})
	return s
}

// Get returns a live session for inspection. An expired session is destroyed
// on sight and reported exactly like one the sweep already removed.
func (st *Store) Get(id, ownerID string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if st.now().After(s.ExpiresAt) {
		st.expire(s)
		return nil, ErrExpired
	}
	return s, nil
}

// Claim atomically removes the session from the store so neither the sweep
// nor a concurrent confirm can touch it, and hands ownership of the staged
// bundle to the caller. At most one Claim per session succeeds; the caller
// must Release the session when done.
func (st *Store) Claim(id, ownerID string) (*Session, error) {
	// Ownership is checked before the session is consumed, so a foreign
	// caller can neither claim it nor knock it out from under its owner.
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok && s.OwnerID == ownerID {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if st.now().After(s.ExpiresAt) {
		_ = s.release()
		st.bus.Publish(bus.Event{Kind: bus.KindPreviewExpired, Payload: s.ID})
		return nil, ErrExpired
	}
	return s, nil
}

// Destroy removes a session and releases its staged bundle. Unknown ids are
// a no-op.
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if ok {
		if err := s.release(); err != nil {
			st.logger.Warn("failed to release staged bundle",
				zap.String("session", id), zap.Error(err))
		}
	}
}

// Start begins the background sweep that destroys expired sessions.
func (st *Store) Start(ctx context.Context) {
	ctx, st.cancel = context.WithCancel(ctx)
	go st.loop(ctx)
}

// Stop stops the sweep loop.
func (st *Store) Stop() {
	if st.cancel != nil {
		st.cancel()
	}
}

func (st *Store) loop(ctx context.Context) {
	ticker := time.NewTicker(st.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep destroys every session past its expiry. Exposed for tests and for
// manual maintenance.
func (st *Store) Sweep() int {
	now := st.now()

	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if now.After(s.ExpiresAt) {
			delete(st.sessions, id)
			expired = append(expired, s)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		st.expire(s)
	}
	return len(expired)
}

func (st *Store) expire(s *Session) {
	st.mu.Lock()
	delete(st.sessions, s.ID)
	st.mu.Unlock()

	if err := s.release(); err != nil && !os.IsNotExist(err) {
		st.logger.Warn("failed to release expired bundle",
			zap.String("session", s.ID), zap.Error(err))
	}
	st.bus.Publish(bus.Event{Kind: bus.KindPreviewExpired, Payload: s.ID})
	st.logger.Info("preview session expired", zap.String("session", s.ID))
}
