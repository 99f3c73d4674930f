package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/cache"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/room"
	"github.com/tcriess/lightspeed-sync/types"
)

// ErrMessageRateExceeded is returned by BeforeMessage only when enforcement is
// enabled; otherwise limit violations are advisory.
var ErrMessageRateExceeded = errors.New("message rate exceeded")

// State of a connection in the admission lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateIpAdmission
	StateMembershipCheck
	StateActive
	StateDisconnecting
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateIpAdmission:
		return "ip-admission"
	case StateMembershipCheck:
		return "membership-check"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Connection is the orchestrator's record of one admitted connection.
type Connection struct {
	SocketId    string
	ClientIp    string
	Target      string
	Identity    types.Identity
	State       State
	ConnectedAt time.Time
}

// Transport is the narrow surface the external synchronization transport
// exposes for administrative reporting. The orchestrator never depends on the
// transport's concrete type.
type Transport interface {
	ActiveConnectionCount() int
	DocumentsByTarget() map[string]int
	CloseTarget(targetPrefix string, reason string) int
}

// Orchestrator sequences authentication, IP admission, membership checks and
// message throttling into the connection lifecycle hooks the transport
// invokes. All shared state lives in the injected components, the orchestrator
// itself only tracks which sockets it admitted so disconnects release exactly
// what connects acquired.
type Orchestrator struct {
	auth      *auth.Authenticator
	members   *cache.Members
	limiter   *limiter.Limiter
	gauge     *limiter.IPGauge
	enforce   bool
	transport Transport

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewOrchestrator(authenticator *auth.Authenticator, members *cache.Members, l *limiter.Limiter, gauge *limiter.IPGauge, enforceMessages bool) *Orchestrator {
	return &Orchestrator{
		auth:    authenticator,
		members: members,
		limiter: l,
		gauge:   gauge,
		enforce: enforceMessages,
		conns:   make(map[string]*Connection),
	}
}

// SetTransport wires the transport in after construction; transport and
// orchestrator reference each other.
func (o *Orchestrator) SetTransport(t Transport) {
	o.transport = t
}

// Transport returns the wired transport, nil before SetTransport.
func (o *Orchestrator) Transport() Transport {
	return o.transport
}

// OnAuthenticate verifies the supplied token and checks it is bound to the
// room of the target identifier. Called by the transport before the
// connection is established.
func (o *Orchestrator) OnAuthenticate(ctx context.Context, token, target string) (*types.Identity, error) {
	identity, err := o.auth.AuthorizeForTarget(token, target)
	if err != nil {
		globals.AppLogger.Info("authentication rejected", "target", target, "error", err)
		return nil, err
	}
	return identity, nil
}

// OnConnect runs the IP admission and membership gates for an authenticated
// connection. A rejection at any gate leaves no state behind.
func (o *Orchestrator) OnConnect(ctx context.Context, identity *types.Identity, target, socketId, clientIp string) error {
	conn := &Connection{
		SocketId:    socketId,
		ClientIp:    clientIp,
		Target:      target,
		Identity:    *identity,
		State:       StateIpAdmission,
		ConnectedAt: time.Now(),
	}
	if err := o.gauge.Acquire(ctx, clientIp); err != nil {
		conn.State = StateRejected
		globals.AppLogger.Info("connection rejected", "gate", StateIpAdmission.String(), "socket", socketId, "ip", clientIp, "error", err)
		return err
	}

	conn.State = StateMembershipCheck
	members, err := o.members.MembersOf(ctx, identity.RoomId)
	if err != nil {
		o.gauge.Release(ctx, clientIp)
		conn.State = StateRejected
		globals.AppLogger.Info("connection rejected", "gate", StateMembershipCheck.String(), "socket", socketId, "room", identity.RoomId, "error", err)
		return err
	}
	isMember := false
	for _, m := range members {
		if m == identity.UserId {
			isMember = true
			break
		}
	}
	if !isMember {
		o.gauge.Release(ctx, clientIp)
		conn.State = StateRejected
		globals.AppLogger.Info("connection rejected", "gate", StateMembershipCheck.String(), "socket", socketId, "room", identity.RoomId, "user", identity.UserId, "error", room.ErrNotAMember)
		return room.ErrNotAMember
	}

	conn.State = StateActive
	o.mu.Lock()
	o.conns[socketId] = conn
	o.mu.Unlock()
	globals.AppLogger.Debug("connection admitted", "socket", socketId, "user", identity.UserId, "room", identity.RoomId, "target", target)
	return nil
}

// OnDisconnect releases the connection's gauge slot. It runs regardless of
// the prior auth outcome; a socket that never reached Active releases
// nothing.
func (o *Orchestrator) OnDisconnect(ctx context.Context, socketId, clientIp string) {
	o.mu.Lock()
	conn, ok := o.conns[socketId]
	if ok {
		conn.State = StateDisconnecting
		delete(o.conns, socketId)
	}
	o.mu.Unlock()
	if ok {
		o.gauge.Release(ctx, clientIp)
		conn.State = StateClosed
	}
	globals.AppLogger.Debug("connection closed", "socket", socketId, "ip", clientIp, "admitted", ok)
}

// BeforeMessage throttles an inbound message against the per-socket and
// per-room dimensions. Violations are advisory (logged, message still
// processed) unless enforcement is configured, in which case the transport is
// told to drop the frame.
func (o *Orchestrator) BeforeMessage(ctx context.Context, target, socketId string) error {
	decision := o.limiter.Check(ctx, limiter.DimensionConn, socketId)
	if !decision.Allowed {
		globals.AppLogger.Warn("socket message rate exceeded", "socket", socketId, "reset_in", decision.ResetIn, "enforced", o.enforce)
		if o.enforce {
			return ErrMessageRateExceeded
		}
	}
	roomId, err := auth.RoomIdFromTarget(target)
	if err != nil {
		return err
	}
	decision = o.limiter.Check(ctx, limiter.DimensionRoom, roomId)
	if !decision.Allowed {
		globals.AppLogger.Warn("room message rate exceeded", "room", roomId, "reset_in", decision.ResetIn, "enforced", o.enforce)
		if o.enforce {
			return ErrMessageRateExceeded
		}
	}
	return nil
}

// ActiveConnections returns the orchestrator's own count of admitted
// connections.
func (o *Orchestrator) ActiveConnections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// ConnectionsByRoom counts admitted connections per room id.
func (o *Orchestrator) ConnectionsByRoom() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int)
	for _, conn := range o.conns {
		out[conn.Identity.RoomId]++
	}
	return out
}
