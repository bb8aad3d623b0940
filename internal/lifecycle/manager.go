// Package lifecycle owns the process-wide realtime client: at most one live
// instance, built lazily from a fresh access token, torn down when the app
// leaves the foreground. All acquire/release pairs are serialized here; no
// other component constructs or destroys the client.
package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNoToken means the subscriber is not authenticated, so no client can be
// built. Callers treat this as "never started", not as a call failure.
var ErrNoToken = errors.New("no valid authentication token")

// Client is the slice of the realtime client the manager owns.
type Client interface {
	Destroy()
}

// Factory builds a realtime client from an access token.
type Factory func(ctx context.Context, accessToken string) (Client, error)

// TokenSource supplies a valid access token, or reports unauthenticated.
type TokenSource interface {
	ValidToken(ctx context.Context) (token string, ok bool, err error)
}

// AppState mirrors the host application's foreground state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// Manager guarantees a single live client and a single in-flight construction.
type Manager struct {
	tokens  TokenSource
	factory Factory
	logger  *logrus.Entry

	mu       sync.Mutex
	client   Client
	building chan struct{} // non-nil while a construction is in flight
	buildErr error
}

func NewManager(tokens TokenSource, factory Factory, logger *logrus.Logger) *Manager {
	return &Manager{
		tokens:  tokens,
		factory: factory,
		logger:  logger.WithField("component", "lifecycle"),
	}
}

// Acquire returns the live client, waiting out any in-flight construction.
// When no client exists and nothing is in flight, the caller becomes the
// builder; everyone else observing the in-flight marker waits for its result.
func (m *Manager) Acquire(ctx context.Context) (Client, error) {
	for {
		m.mu.Lock()
		if m.client != nil {
			c := m.client
			m.mu.Unlock()
			return c, nil
		}
		if m.building == nil {
			// Become the builder. The marker is set before any suspension
			// point so concurrent callers wait instead of double-building.
			m.building = make(chan struct{})
			m.buildErr = nil
			m.mu.Unlock()
			return m.build(ctx)
		}
		done := m.building
		m.mu.Unlock()

		select {
		case <-done:
			m.mu.Lock()
			c, err := m.client, m.buildErr
			m.mu.Unlock()
			if c != nil {
				return c, nil
			}
			if err != nil {
				return nil, err
			}
			// Built and already released; start over.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) build(ctx context.Context) (Client, error) {
	client, err := m.construct(ctx)

	m.mu.Lock()
	if err == nil {
		m.client = client
	}
	m.buildErr = err
	done := m.building
	m.building = nil
	m.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	return client, nil
}

func (m *Manager) construct(ctx context.Context) (Client, error) {
	token, ok, err := m.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoToken
	}

	client, err := m.factory(ctx, token)
	if err != nil {
		m.logger.WithError(err).Error("realtime client construction failed")
		return nil, err
	}
	m.logger.Info("realtime client ready")
	return client, nil
}

// Release destroys the live client if present and clears all tracking state.
// Destruction problems are logged, never propagated.
func (m *Manager) Release() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return
	}
	m.logger.Info("destroying realtime client")
	client.Destroy()
}

// WatchAppState releases the client whenever the application leaves the
// active state, and on final teardown (ctx done or channel close). Run it on
// its own goroutine.
func (m *Manager) WatchAppState(ctx context.Context, states <-chan AppState) {
	prev := AppStateActive
	for {
		select {
		case <-ctx.Done():
			m.Release()
			return
		case state, ok := <-states:
			if !ok {
				m.Release()
				return
			}
			if prev == AppStateActive && state != AppStateActive {
				m.logger.WithField("state", string(state)).Info("app left foreground")
				m.Release()
			}
			prev = state
		}
	}
}
