package enforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"loginshield.io/internal/auth"
	"loginshield.io/internal/block"
	"loginshield.io/internal/events"
	"loginshield.io/internal/session"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.LoginEvent
}

func (e *recordingEmitter) Emit(ev events.LoginEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingEmitter) only(t *testing.T) events.LoginEvent {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) != 1 {
		t.Fatalf("expected exactly one event, got %d: %+v", len(e.events), e.events)
	}
	return e.events[0]
}

type countingAuthenticator struct {
	inner Authenticator
	calls int
}

func (a *countingAuthenticator) Authenticate(ctx context.Context, u, p string) (*auth.User, error) {
	a.calls++
	return a.inner.Authenticate(ctx, u, p)
}

type failingBlocks struct{}

func (failingBlocks) IsBlocked(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("db timeout")
}

type failingRegistrar struct{}

func (failingRegistrar) RegisterSession(context.Context, string, string, string) error {
	return errors.New("db down")
}

type unavailableAuthenticator struct{}

func (unavailableAuthenticator) Authenticate(context.Context, string, string) (*auth.User, error) {
	return nil, fmt.Errorf("%w: users table unreachable", auth.ErrUnavailable)
}

// downTransport refuses to create sessions.
type downTransport struct {
	*session.MemoryTransport
}

func (downTransport) Create(context.Context, string, string) (session.Record, error) {
	return session.Record{}, errors.New("redis: connection refused")
}

type fixture struct {
	blocks    *block.MemoryRegistry
	registry  *session.MemoryRegistry
	transport *session.MemoryTransport
	authn     *countingAuthenticator
	emitter   *recordingEmitter
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := auth.NewMemoryUserStore()
	if _, err := auth.Register(context.Background(), users, "alice", "correct-horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f := &fixture{
		blocks:    block.NewMemoryRegistry(),
		registry:  session.NewMemoryRegistry(),
		transport: session.NewMemoryTransport(0, 0),
		authn:     &countingAuthenticator{inner: auth.NewAuthenticator(users)},
		emitter:   &recordingEmitter{},
	}
	revoker := session.NewRevoker(f.registry, f.transport)
	f.coord = NewCoordinator(f.blocks, f.authn, f.transport, revoker, f.emitter)
	return f
}

func TestLoginFromBlockedIPNeverAuthenticates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.blocks.Block(ctx, block.NewEntry("10.0.0.5", time.Hour, "test", time.Now()))

	out := f.coord.Login(ctx, LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.5"})
	if out.Success || out.StatusCode != http.StatusForbidden || out.Message != MsgBlocked {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.authn.calls != 0 {
		t.Fatalf("authenticator called %d times for blocked ip", f.authn.calls)
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure || ev.IP != "10.0.0.5" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("no session may be created for a blocked ip")
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.coord.Login(ctx, LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.7"})
	if !out.Success || out.StatusCode != http.StatusOK || out.SessionID == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	rows, _ := f.registry.FindByUsername(ctx, "alice")
	if len(rows) != 1 || rows[0].IP != "10.0.0.7" || rows[0].ID != out.SessionID {
		t.Fatalf("registry rows: %+v", rows)
	}
	if _, err := f.transport.Get(ctx, out.SessionID); err != nil {
		t.Fatalf("transport session missing: %v", err)
	}
	ev := f.emitter.only(t)
	if ev.Status != events.StatusSuccess || ev.Username != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	out := f.coord.Login(context.Background(), LoginAttempt{Username: "alice", Password: "nope", IP: "10.0.0.7"})
	if out.Success || out.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("registry must be unchanged")
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLoginFailsClosedWhenBlockStoreDown(t *testing.T) {
	f := newFixture(t)
	f.coord.blocks = failingBlocks{}

	out := f.coord.Login(context.Background(), LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.7"})
	if out.Success || out.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.authn.calls != 0 {
		t.Fatalf("authenticator must not run when the block check fails")
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLoginRegistryFailureDiscardsSession(t *testing.T) {
	f := newFixture(t)
	f.coord.registry = failingRegistrar{}

	out := f.coord.Login(context.Background(), LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.7"})
	if out.Success || out.StatusCode != http.StatusServiceUnavailable || out.SessionID != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if left := f.transport.Len(); left != 0 {
		t.Fatalf("transport session should be destroyed, %d left", left)
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLoginFailsClosedWhenAuthenticatorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.coord.authn = unavailableAuthenticator{}

	out := f.coord.Login(context.Background(), LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.7"})
	if out.Success || out.StatusCode != http.StatusServiceUnavailable || out.Message != MsgUnavailable || out.SessionID != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.registry.Len() != 0 || f.transport.Len() != 0 {
		t.Fatalf("no session may exist: registry=%d transport=%d", f.registry.Len(), f.transport.Len())
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure || ev.IP != "10.0.0.7" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLoginFailsClosedWhenTransportDown(t *testing.T) {
	f := newFixture(t)
	f.coord.transport = downTransport{f.transport}

	out := f.coord.Login(context.Background(), LoginAttempt{Username: "alice", Password: "correct-horse", IP: "10.0.0.7"})
	if out.Success || out.StatusCode != http.StatusServiceUnavailable || out.SessionID != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.authn.calls != 1 {
		t.Fatalf("authenticator calls=%d, want 1", f.authn.calls)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("registry must be unchanged, have %d rows", f.registry.Len())
	}
	if ev := f.emitter.only(t); ev.Status != events.StatusFailure {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
