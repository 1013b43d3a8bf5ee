package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/lobby"
	"github.com/DoyleJ11/guess-who-backend/internal/types"
	pub "github.com/DoyleJ11/guess-who-backend/pkg/types"
)

const (
	outboxSize   = 16
	readLimit    = 4096
	writeTimeout = 3 * time.Second
	opTimeout    = 10 * time.Second
	pingEvery    = 20 * time.Second
)

// Handler authenticates the request, upgrades it and runs the connection until either
// side hangs up. The credential comes from ?credential= or an Authorization bearer.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := g.auth.Resolve(r.Context(), credential(r))
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.origins})
		if err != nil {
			return
		}
		defer wsc.Close(websocket.StatusNormalClosure, "bye")
		wsc.SetReadLimit(readLimit)

		c := newConn(uuid.NewString(), wsc)
		c.identity = id
		g.register(c)
		defer g.drop(c)

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go g.writer(writeCtx, c)
		go g.pinger(writeCtx, c)

		// Reader loop
		for {
			_, data, err := wsc.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					g.log.Debug("read ended", zap.String("conn", c.handle), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				g.sendError(c, engine.Errorf(engine.KindInvalidArgument, "bad json"))
				continue
			}

			ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
			err = g.dispatch(ctx, c, cm)
			cancel()
			if err != nil {
				g.sendError(c, err)
			}
		}
	}
}

func credential(r *http.Request) string {
	if cred := r.URL.Query().Get("credential"); cred != "" {
		return cred
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, m types.ClientMessage) error {
	switch m.Type {
	case pub.MsgJoin, pub.MsgReconnect:
		if _, _, ok := g.seat(c); ok {
			return engine.Errorf(engine.KindInvalidArgument, "connection already holds a seat")
		}
		var (
			seat lobby.Seat
			err  error
		)
		if m.Type == pub.MsgJoin {
			seat, err = g.lobby.Join(ctx, lobby.JoinRequest{Code: m.Code, Identity: c.identity, Name: m.Name, Token: m.Token, Handle: c.handle})
		} else {
			seat, err = g.lobby.Reconnect(ctx, m.Token, c.handle)
		}
		if err != nil {
			return err
		}
		g.send(c, types.ServerMessage{
			Type:          pub.MsgJoined,
			Room:          seat.Commit.Code,
			ParticipantID: seat.Participant.ID,
			Token:         seat.Token,
		})
		return nil
	}

	code, pid, ok := g.seat(c)
	if !ok {
		return engine.ErrNotAParticipant
	}

	var err error
	switch m.Type {
	case pub.MsgSetReady:
		_, err = g.lobby.SetReady(ctx, code, pid, m.Ready)
	case pub.MsgLeave:
		_, err = g.lobby.Leave(ctx, code, pid)
	case pub.MsgStart:
		_, err = g.lobby.Start(ctx, code, pid)
	case pub.MsgAskQuestion:
		_, err = g.turns.Ask(ctx, code, pid, m.Text, engine.Category(strings.ToLower(m.Category)))
	case pub.MsgSubmitAnswer:
		_, err = g.turns.Answer(ctx, code, pid, engine.AnswerValue(strings.ToLower(m.Answer)), m.Text)
	case pub.MsgMakeGuess:
		_, err = g.turns.Guess(ctx, code, pid, m.CharacterID)
	default:
		err = engine.ErrUnsupportedCommand
	}
	return err
}

func (g *Gateway) sendError(c *conn, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	switch {
	case kind == engine.KindInternal:
		g.log.Error("request failed", zap.String("conn", c.handle), zap.Error(err))
		msg = "internal error"
	case kind.Fatal():
		g.log.Error("request failed", zap.String("conn", c.handle), zap.String("kind", string(kind)), zap.Error(err))
	default:
		g.log.Debug("request rejected", zap.String("conn", c.handle), zap.String("kind", string(kind)), zap.Error(err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timed out"
	}
	g.send(c, types.ServerMessage{Type: pub.MsgError, Code: string(kind), Error: msg})
}

// Writer goroutine
func (g *Gateway) writer(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.out:
			payload, err := json.Marshal(msg)
			if err != nil {
				g.log.Error("encode message", zap.String("conn", c.handle), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.kill(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) pinger(ctx context.Context, c *conn) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.kill(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
