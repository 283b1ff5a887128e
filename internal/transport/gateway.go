package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"call-engine/internal/registry"
	"call-engine/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

var ErrPeerOffline = errors.New("transport: peer not attached")

// Directory resolves the authoritative peer address registered for a
// (session, role) pair. *registry.Allocator implements it.
type Directory interface {
	Lookup(ctx context.Context, sessionID, role string) (registry.Registration, error)
}

// Gateway attaches call peers over WebSocket and bridges them to the engine.
//
// Inbound frames become SessionEvents calls; outbound commands (Offer,
// Teardown) and the engine's event stream become frames to the relevant
// peers. It implements session.Transport.
type Gateway struct {
	events    SessionEvents
	directory Directory
	log       *slog.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	byAddress map[string]*client
	bySession map[string]map[string]*client // sessionID -> role -> client
}

func NewGateway(events SessionEvents, directory Directory, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		events:    events,
		directory: directory,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		byAddress: make(map[string]*client),
		bySession: make(map[string]map[string]*client),
	}
}

// Bind connects the engine sink. The manager and the gateway reference each
// other, so one of them is constructed first and bound here before the
// gateway accepts connections.
func (g *Gateway) Bind(events SessionEvents) { g.events = events }

type client struct {
	gw *Gateway

	sessionID   string
	role        string
	peerAddress string

	conn *websocket.Conn
	send chan Frame
	done chan struct{}

	closeOnce sync.Once
}

// Offer delivers the call offer to a peer. The callee must already be
// attached: ringing only starts once its endpoint is reachable.
func (g *Gateway) Offer(ctx context.Context, peerAddress string) error {
	_ = ctx
	cl := g.lookup(peerAddress)
	if cl == nil {
		return fmt.Errorf("%w: %s", ErrPeerOffline, peerAddress)
	}
	cl.enqueue(Frame{Type: FrameOffer, SessionID: cl.sessionID})
	return nil
}

// Teardown tells a peer the session is over. A peer that already left is
// fine; teardown is best-effort.
func (g *Gateway) Teardown(ctx context.Context, peerAddress string) error {
	_ = ctx
	cl := g.lookup(peerAddress)
	if cl == nil {
		return nil
	}
	cl.enqueue(Frame{Type: FrameTeardown, SessionID: cl.sessionID})
	return nil
}

// Push forwards one engine event to the session's attached peers.
func (g *Gateway) Push(ev session.Event) {
	frame := Frame{
		SessionID:           ev.SessionID,
		State:               string(ev.NewState),
		Reason:              string(ev.EndReason),
		ConnectedSeconds:    ev.ConnectedSeconds,
		ProvisionalNetMinor: ev.ProvisionalNetMinor,
	}
	switch ev.Type {
	case session.EventStateChange:
		frame.Type = FrameState
	case session.EventDurationUpdate:
		frame.Type = FrameDuration
	default:
		return
	}

	g.mu.Lock()
	roles := g.bySession[ev.SessionID]
	clients := make([]*client, 0, len(roles))
	for _, cl := range roles {
		clients = append(clients, cl)
	}
	g.mu.Unlock()

	for _, cl := range clients {
		cl.enqueue(frame)
	}
}

// Forward pumps the engine's event stream into attached peers until the
// channel closes or ctx is done. Run it in its own goroutine.
func (g *Gateway) Forward(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.Push(ev)
		}
	}
}

// Serve upgrades an attach request. The peer identifies itself with the
// session ID, role, and the peer address it was handed at session start.
// A callee attaching makes the session ring.
//
// The presented address must match the registry's latest registration for
// that role; the registry is the authority on who may speak for a session,
// so a fabricated address or role never reaches the engine.
func (g *Gateway) Serve(c *gin.Context) {
	sessionID := c.Query("session_id")
	role := c.Query("role")
	peerAddress := c.Query("peer_address")
	if sessionID == "" || peerAddress == "" || (role != "caller" && role != "callee") {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id, role and peer_address required"})
		return
	}

	if g.directory == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "peer directory unavailable"})
		return
	}
	reg, err := g.directory.Lookup(c.Request.Context(), sessionID, role)
	if err != nil || reg.PeerAddress != peerAddress {
		g.log.Warn("attach rejected", "session_id", sessionID, "role", role, "peer_address", peerAddress)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "peer address not registered for session"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	cl := &client{
		gw:          g,
		sessionID:   sessionID,
		role:        role,
		peerAddress: peerAddress,
		conn:        conn,
		send:        make(chan Frame, sendBufferSize),
		done:        make(chan struct{}),
	}
	g.attach(cl)
	g.log.Info("peer attached", "session_id", sessionID, "role", role, "peer_address", peerAddress)

	go cl.writePump()

	ctx := c.Request.Context()
	if role == "callee" {
		if err := g.events.PeerReachable(ctx, sessionID); err != nil {
			g.log.Debug("peer reachable rejected", "session_id", sessionID, "err", err)
		}
	}

	cl.readPump(ctx)
}

// dispatch maps one inbound frame to the engine. Unknown frame types are
// ignored; the wire may be newer than the engine.
func (g *Gateway) dispatch(ctx context.Context, cl *client, f Frame) {
	var err error
	switch f.Type {
	case FrameAccept:
		err = g.events.Accepted(ctx, cl.sessionID)
	case FrameMediaLive:
		err = g.events.MediaLive(ctx, cl.sessionID)
	case FrameReconnecting:
		err = g.events.Reconnecting(ctx, cl.sessionID)
	case FrameHangup:
		err = g.events.Hangup(ctx, cl.sessionID, session.Role(cl.role))
	case FrameError:
		err = g.events.TransportError(ctx, cl.sessionID, f.Reason)
	default:
		g.log.Debug("unknown frame type", "type", f.Type, "session_id", cl.sessionID)
	}
	if err != nil {
		g.log.Debug("frame rejected", "type", f.Type, "session_id", cl.sessionID, "err", err)
	}
}

func (g *Gateway) attach(cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.byAddress[cl.peerAddress] = cl
	roles := g.bySession[cl.sessionID]
	if roles == nil {
		roles = make(map[string]*client)
		g.bySession[cl.sessionID] = roles
	}
	roles[cl.role] = cl
}

func (g *Gateway) detach(cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.byAddress[cl.peerAddress] == cl {
		delete(g.byAddress, cl.peerAddress)
	}
	if roles := g.bySession[cl.sessionID]; roles != nil && roles[cl.role] == cl {
		delete(roles, cl.role)
		if len(roles) == 0 {
			delete(g.bySession, cl.sessionID)
		}
	}
}

func (g *Gateway) lookup(peerAddress string) *client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byAddress[peerAddress]
}

func (cl *client) enqueue(f Frame) {
	select {
	case cl.send <- f:
	default:
		// A peer that stopped reading loses display frames; the engine's
		// state is unaffected.
		cl.gw.log.Debug("send buffer full, dropping frame",
			"session_id", cl.sessionID, "role", cl.role, "type", f.Type)
	}
}

func (cl *client) readPump(ctx context.Context) {
	defer func() {
		cl.gw.detach(cl)
		cl.close()

		// An abrupt disconnect of either peer is an unrecoverable signaling
		// failure for the session; a clean close after teardown is not.
		if err := cl.gw.events.TransportError(ctx, cl.sessionID, cl.role+" disconnected"); err != nil {
			cl.gw.log.Debug("disconnect ignored", "session_id", cl.sessionID, "err", err)
		}
	}()

	for {
		var f Frame
		if err := cl.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.gw.log.Warn("unexpected close", "session_id", cl.sessionID, "role", cl.role, "err", err)
			}
			return
		}
		cl.gw.dispatch(ctx, cl, f)
	}
}

func (cl *client) writePump() {
	for {
		select {
		case <-cl.done:
			return
		case f := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(f); err != nil {
				cl.close()
				return
			}
		}
	}
}

func (cl *client) close() {
	cl.closeOnce.Do(func() {
		close(cl.done)
		_ = cl.conn.Close()
	})
}
