package enforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"loginshield.io/internal/auth"
	"loginshield.io/internal/events"
	"loginshield.io/internal/obs"
	"loginshield.io/internal/session"
)

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*auth.User, error)
}

// SessionRegistrar records granted sessions for later revocation.
type SessionRegistrar interface {
	RegisterSession(ctx context.Context, id, username, ip string) error
}

// Emitter accepts login events without blocking.
type Emitter interface {
	Emit(events.LoginEvent)
}

// LoginAttempt is one set of submitted credentials and the IP they came from.
type LoginAttempt struct {
	Username string
	Password string
	IP       string
}

// Coordinator makes the login decision: block pre-check, authentication,
// session creation and registration. Every call emits exactly one event.
type Coordinator struct {
	blocks    BlockChecker
	authn     Authenticator
	transport session.Transport
	registry  SessionRegistrar
	emitter   Emitter
	now       func() time.Time
}

func NewCoordinator(blocks BlockChecker, authn Authenticator, transport session.Transport, registry SessionRegistrar, emitter Emitter) *Coordinator {
	return &Coordinator{
		blocks:    blocks,
		authn:     authn,
		transport: transport,
		registry:  registry,
		emitter:   emitter,
		now:       time.Now,
	}
}

// Login runs the decision for attempt. Denials are returned as outcomes.
func (c *Coordinator) Login(ctx context.Context, attempt LoginAttempt) LoginOutcome {
	ctx, span := obs.Tracer().Start(ctx, "login.decide")
	defer span.End()
	span.SetAttributes(attribute.String("client.ip", attempt.IP))

	out, status, err := c.decide(ctx, attempt)
	if err != nil {
		obs.Logger().Error().Err(err).Str("ip", attempt.IP).Msg("login denied: collaborator unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.emitter.Emit(events.LoginEvent{
		IP:        attempt.IP,
		Status:    status,
		Timestamp: c.now().UTC(),
		Username:  auth.NormalizeUsername(attempt.Username),
	})

	obs.LoginOutcomes.WithLabelValues(string(status), strconv.Itoa(out.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("login.status_code", out.StatusCode))
	return out
}

// decide returns a non-nil error, wrapping ErrUnavailable, only for the
// fail-closed branches.
func (c *Coordinator) decide(ctx context.Context, attempt LoginAttempt) (LoginOutcome, events.Status, error) {
	log := obs.Logger()
	unavailable := denied(http.StatusServiceUnavailable, MsgUnavailable)

	blocked, err := c.blocks.IsBlocked(ctx, attempt.IP, c.now())
	if err != nil {
		return unavailable, events.StatusFailure, fmt.Errorf("%w: block pre-check: %v", ErrUnavailable, err)
	}
	if blocked {
		log.Warn().Str("ip", attempt.IP).Msg("login attempt from blocked ip")
		return denied(http.StatusForbidden, MsgBlocked), events.StatusFailure, nil
	}

	user, err := c.authn.Authenticate(ctx, attempt.Username, attempt.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		log.Info().Str("ip", attempt.IP).Msg("login rejected: invalid credentials")
		return denied(http.StatusUnauthorized, MsgInvalidCredentials), events.StatusFailure, nil
	case err != nil:
		return unavailable, events.StatusFailure, fmt.Errorf("%w: authenticate: %v", ErrUnavailable, err)
	}

	rec, err := c.transport.Create(ctx, user.Username, attempt.IP)
	if err != nil {
		return unavailable, events.StatusFailure, fmt.Errorf("%w: create session: %v", ErrUnavailable, err)
	}
	if err := c.registry.RegisterSession(ctx, rec.ID, user.Username, attempt.IP); err != nil {
		if derr := c.transport.Delete(context.WithoutCancel(ctx), rec.ID); derr != nil {
			log.Error().Err(derr).Str("session_id", rec.ID).Msg("discard unregistered session")
		}
		return unavailable, events.StatusFailure, fmt.Errorf("%w: register session: %v", ErrUnavailable, err)
	}

	log.Info().Str("ip", attempt.IP).Str("username", user.Username).Msg("login succeeded")
	return LoginOutcome{
		Success:    true,
		Message:    MsgLoginSuccessful,
		StatusCode: http.StatusOK,
		SessionID:  rec.ID,
	}, events.StatusSuccess, nil
}
