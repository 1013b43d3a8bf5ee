// Package ws is the realtime gateway. It owns the (room, participant) -> connection table
// and is the only place session commits turn into bytes on the wire.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/auth"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/lobby"
	"github.com/DoyleJ11/guess-who-backend/internal/session"
	"github.com/DoyleJ11/guess-who-backend/internal/turn"
	"github.com/DoyleJ11/guess-who-backend/internal/types"
	pub "github.com/DoyleJ11/guess-who-backend/pkg/types"
)

type Gateway struct {
	lobby   *lobby.Manager
	turns   *turn.Service
	auth    auth.Resolver
	log     *zap.Logger
	origins []string

	mu    sync.Mutex
	conns map[string]*conn            // handle -> conn
	rooms map[string]map[string]*conn // code -> participant -> conn
}

type Option func(*Gateway)

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gateway) { g.origins = patterns }
}

func NewGateway(store *session.Store, lm *lobby.Manager, turns *turn.Service, resolver auth.Resolver, log *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		lobby: lm,
		turns: turns,
		auth:  resolver,
		log:   log.Named("ws"),
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]*conn),
	}
	for _, opt := range opts {
		opt(g)
	}
	store.Subscribe(g)
	return g
}

type conn struct {
	handle   string
	ws       *websocket.Conn
	identity auth.Identity
	out      chan types.ServerMessage
	done     chan struct{}
	once     sync.Once

	// Guarded by Gateway.mu.
	code string
	pid  string
}

func newConn(handle string, wsc *websocket.Conn) *conn {
	return &conn{
		handle: handle,
		ws:     wsc,
		out:    make(chan types.ServerMessage, outboxSize),
		done:   make(chan struct{}),
	}
}

// kill stops delivery and closes the socket without waiting for the peer.
func (c *conn) kill(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			go c.ws.Close(status, reason)
		}
	})
}

func (g *Gateway) register(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.handle] = c
}

// drop forgets a finished connection and reports its seat as disconnected.
func (g *Gateway) drop(c *conn) {
	c.kill(websocket.StatusNormalClosure, "bye")

	g.mu.Lock()
	delete(g.conns, c.handle)
	code, pid := c.code, c.pid
	g.unbindLocked(c)
	g.mu.Unlock()

	if code == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := g.lobby.Disconnect(ctx, code, pid, c.handle); err != nil && engine.KindOf(err) != engine.KindRoomNotFound {
		g.log.Warn("disconnect failed", zap.String("room", code), zap.String("participant", pid), zap.Error(err))
	}
}

func (g *Gateway) seat(c *conn) (code, pid string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return c.code, c.pid, c.code != ""
}

func (g *Gateway) unbindLocked(c *conn) {
	if c.code == "" {
		return
	}
	if room := g.rooms[c.code]; room[c.pid] == c {
		delete(room, c.pid)
	}
	c.code, c.pid = "", ""
}

// send queues msg without blocking. A client that cannot keep up is dropped.
func (g *Gateway) send(c *conn, msg types.ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		g.log.Warn("dropping slow client", zap.String("conn", c.handle))
		c.kill(websocket.StatusPolicyViolation, "too slow")
		return false
	}
}

// Committed reconciles the connection table against the committed seats, then delivers
// the commit: a seat that just attached gets a full Snapshot, every other attached seat
// gets the redacted events. A connection whose seat is gone gets this last commit before
// it is detached. It runs on the room goroutine.
func (g *Gateway) Committed(c session.Commit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seated := g.rooms[c.Code]
	if seated == nil {
		seated = make(map[string]*conn)
		g.rooms[c.Code] = seated
	}

	for pid, cn := range seated {
		p, ok := c.State.Participant(pid)
		switch {
		case !ok:
			// No seat left, so nothing hidden is addressed to it.
			g.send(cn, types.ServerMessage{Type: pub.MsgEvents, Version: c.Version, Events: engine.RedactFor(c.State, c.Events, "")})
			g.unbindLocked(cn)
		case p.Handle != cn.handle:
			g.unbindLocked(cn)
			if p.Handle != "" {
				cn.kill(websocket.StatusPolicyViolation, "seat taken over")
			}
		}
	}

	fresh := make(map[*conn]bool)
	for _, p := range c.State.Participants {
		if p.Handle == "" || seated[p.ID] != nil {
			continue
		}
		cn := g.conns[p.Handle]
		if cn == nil {
			continue
		}
		g.unbindLocked(cn)
		cn.code, cn.pid = c.Code, p.ID
		seated[p.ID] = cn
		fresh[cn] = true

		view := engine.ViewFor(c.State, p.ID)
		g.send(cn, types.ServerMessage{Type: pub.MsgSnapshot, Version: c.Version, State: &view, ParticipantID: p.ID})
	}

	for pid, cn := range seated {
		if fresh[cn] {
			continue
		}
		// A dropped client stays bound until its reader exits, so drop can report it.
		g.send(cn, types.ServerMessage{Type: pub.MsgEvents, Version: c.Version, Events: engine.RedactFor(c.State, c.Events, pid)})
	}
}

// Evicted closes whatever connections are still attached to the room.
func (g *Gateway) Evicted(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cn := range g.rooms[code] {
		cn.code, cn.pid = "", ""
		cn.kill(websocket.StatusNormalClosure, "room closed")
	}
	delete(g.rooms, code)
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, cn := range g.conns {
		cn.kill(websocket.StatusGoingAway, "server shutting down")
	}
	g.mu.Unlock()

	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		g.mu.Lock()
		n := len(g.conns)
		g.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
