package packages_api

import (
	"context"

	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/BearBump/PickupBox/internal/services/sessions"
	"github.com/BearBump/PickupBox/internal/storage/sessionstore"
)

// Backend hands out the service a single request works with.
type Backend interface {
	// Sessioned reports whether requests are scoped by X-Session-ID.
	Sessioned() bool
	Begin(ctx context.Context, sessionID string) (*Scope, error)
}

// Scope is one request's view of the store. Session is nil for the durable backend.
type Scope struct {
	Service *packages.Service
	Session *sessionstore.Store

	commit  func(ctx context.Context) error
	release func()
}

// Commit persists session state after a mutation; a no-op for the durable backend.
func (s *Scope) Commit(ctx context.Context) error {
	if s.commit == nil {
		return nil
	}
	return s.commit(ctx)
}

// Close releases the session lock taken by Begin. Safe to call more than once.
func (s *Scope) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

type DurableBackend struct {
	svc *packages.Service
}

func NewDurableBackend(svc *packages.Service) *DurableBackend {
	return &DurableBackend{svc: svc}
}

func (b *DurableBackend) Sessioned() bool { return false }

func (b *DurableBackend) Begin(_ context.Context, _ string) (*Scope, error) {
	return &Scope{Service: b.svc}, nil
}

type SessionBackend struct {
	sessions *sessions.Manager
	build    func(packages.Store) *packages.Service
}

// NewSessionBackend builds a fresh service over each session's store with build.
func NewSessionBackend(m *sessions.Manager, build func(packages.Store) *packages.Service) *SessionBackend {
	return &SessionBackend{sessions: m, build: build}
}

func (b *SessionBackend) Sessioned() bool { return true }

// Begin locks the session until Scope.Close, so concurrent requests of one
// session do not overwrite each other's snapshot.
func (b *SessionBackend) Begin(ctx context.Context, sessionID string) (*Scope, error) {
	unlock, err := b.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st, err := b.sessions.Load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	return &Scope{
		Service: b.build(st),
		Session: st,
		commit: func(ctx context.Context) error {
			return b.sessions.Save(ctx, sessionID, st)
		},
		release: unlock,
	}, nil
}
