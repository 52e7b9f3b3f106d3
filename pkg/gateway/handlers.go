package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// handleFrame decodes one inbound frame and applies it. A returned error
// terminates the connection.
func (g *Gateway) handleFrame(ctx context.Context, s *Session, raw []byte) error {
	env, err := g.codec.Decode(raw)
	if err != nil {
		return err
	}
	kind, err := g.codec.Registry().ResolveInbound(env.Op)
	if err != nil {
		return err
	}
	payload, err := g.codec.DecodePayload(env, kind)
	if err != nil {
		return err
	}
	g.observer.FrameReceived(kind)

	switch p := payload.(type) {
	case *protocol.Heartbeat:
		return g.handleHeartbeat(ctx, s, p)
	case *protocol.Identify:
		return g.handleIdentify(ctx, s, p)
	case *protocol.Resume:
		return g.handleResume(ctx, s, p)
	default:
		return fmt.Errorf("%w: no handler for %v", protocol.ErrUnknownOperation, kind)
	}
}

// handleHeartbeat records liveness and acknowledges. Heartbeats are
// accepted in every open state.
func (g *Gateway) handleHeartbeat(ctx context.Context, s *Session, p *protocol.Heartbeat) error {
	s.beat(g.now())

	ack, err := g.codec.Encode(&protocol.HeartbeatAck{})
	if err != nil {
		return err
	}
	if !s.enqueue(ack) {
		return ErrQueueOverflow
	}

	if g.presence != nil && s.State() == StateActive {
		if id := s.SessionID(); id != "" {
			pctx, cancel := context.WithTimeout(ctx, g.config.VerifyTimeout)
			if err := g.presence.Refresh(pctx, id); err != nil {
				s.log().Warn("presence refresh failed", "error", err)
			}
			cancel()
		}
	}
	return nil
}

// handleIdentify authenticates a new session and sends READY as its first
// dispatch.
func (g *Gateway) handleIdentify(ctx context.Context, s *Session, p *protocol.Identify) error {
	if st := s.State(); st != StateAwaitingIdentify {
		return NewSessionError(s.SessionID(), "identify", fmt.Errorf("%w: IDENTIFY in state %s", ErrProtocolViolation, st))
	}

	ctx, span := g.tracer.Start(ctx, "gateway.identify", trace.WithAttributes(
		attribute.String("gateway.conn_id", s.ID()),
	))
	defer span.End()

	principal, err := g.verify(ctx, p.Token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return NewSessionError("", "identify", err)
	}
	if s.State() == StateClosed {
		return nil
	}

	e := g.registry.newEntry(uuid.NewString(), principal)
	e.current = s
	s.attach(e)

	data, err := json.Marshal(protocol.Ready{
		SessionID: e.id,
		User: protocol.User{
			ID:       principal.ID,
			Name:     principal.Name,
			Email:    principal.Email,
			Roles:    principal.Roles,
			TenantID: principal.TenantID,
		},
		Groups:    principal.Groups,
		ResumeURL: g.config.ResumeURL,
	})
	if err != nil {
		return err
	}
	if _, err := e.dispatch(g.codec, Event{Type: protocol.EventReady, Data: data}); err != nil {
		return err
	}
	s.setState(StateActive)
	g.registry.register(e)

	if g.presence != nil {
		if err := g.presence.Claim(ctx, e.id, principal.ID); err != nil {
			s.log().Warn("presence claim failed", "error", err)
		}
	}

	span.SetAttributes(
		attribute.String("gateway.session_id", e.id),
		attribute.String("gateway.user_id", principal.ID),
	)
	span.SetStatus(codes.Ok, "")
	g.observer.SessionIdentified()
	s.log().Info("session identified", "user_id", principal.ID)
	return nil
}

// handleResume reattaches a previous session, replays the dispatches after
// LastSeq in order and sends RESUMED.
func (g *Gateway) handleResume(ctx context.Context, s *Session, p *protocol.Resume) error {
	if st := s.State(); st != StateAwaitingIdentify {
		return NewSessionError(s.SessionID(), "resume", fmt.Errorf("%w: RESUME in state %s", ErrProtocolViolation, st))
	}
	s.setState(StateAwaitingResume)

	ctx, span := g.tracer.Start(ctx, "gateway.resume", trace.WithAttributes(
		attribute.String("gateway.conn_id", s.ID()),
		attribute.String("gateway.session_id", p.SessionID),
		attribute.Int64("gateway.last_seq", int64(p.LastSeq)),
	))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NewSessionError(p.SessionID, "resume", err)
	}

	e, ok := g.registry.lookup(p.SessionID)
	if !ok {
		return fail(ErrSessionNotFound)
	}
	if p.Token != "" {
		principal, err := g.verify(ctx, p.Token)
		if err != nil {
			return fail(err)
		}
		if !principal.Same(e.principal) {
			return fail(fmt.Errorf("%w: token does not belong to session", auth.ErrAuthentication))
		}
	}
	if g.presence != nil {
		pctx, cancel := context.WithTimeout(ctx, g.config.VerifyTimeout)
		valid := g.presence.Valid(pctx, e.id)
		cancel()
		if !valid {
			return fail(fmt.Errorf("%w: presence claim expired", ErrSessionNotFound))
		}
	}

	old, replayed, err := e.resume(g.codec, s, p.LastSeq)
	if err != nil {
		return fail(err)
	}
	if old != nil && old != s {
		old.fail(ErrSessionReplaced)
	}

	span.SetAttributes(attribute.Int("gateway.replayed", replayed))
	span.SetStatus(codes.Ok, "")
	g.observer.SessionResumed(replayed)
	s.log().Info("session resumed", "last_seq", p.LastSeq, "replayed", replayed)
	return nil
}

// verify runs the credential verifier with a timeout. Every failure wraps
// auth.ErrAuthentication.
func (g *Gateway) verify(ctx context.Context, token string) (auth.Principal, error) {
	vctx, cancel := context.WithTimeout(ctx, g.config.VerifyTimeout)
	defer cancel()

	principal, err := g.verifier.Verify(vctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrAuthentication) {
			g.logger.Warn("credential verification error", "error", err)
			err = fmt.Errorf("%w: %v", auth.ErrAuthentication, err)
		}
		return auth.Principal{}, err
	}
	if principal.ID == "" {
		return auth.Principal{}, fmt.Errorf("%w: verifier returned no principal id", auth.ErrAuthentication)
	}
	if principal.Expired(g.now()) {
		return auth.Principal{}, fmt.Errorf("%w: credential expired", auth.ErrAuthentication)
	}
	return principal, nil
}
