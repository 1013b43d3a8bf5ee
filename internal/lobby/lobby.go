// Package lobby runs pre-match membership on top of the session store: creating rooms,
// seating players, readiness, start gating and reconnection windows.
package lobby

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/auth"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/roomcode"
	"github.com/DoyleJ11/guess-who-backend/internal/secret"
	"github.com/DoyleJ11/guess-who-backend/internal/session"
)

type Manager struct {
	store   *session.Store
	codes   *roomcode.Allocator
	secrets *secret.Assigner
	log     *zap.Logger
	now     func() time.Time

	grace    time.Duration
	lobbyTTL time.Duration

	mu     sync.Mutex
	timers map[string]map[string]*time.Timer // code -> participant -> grace timer
}

type Option func(*Manager)

// WithReconnectGrace sets how long a disconnected seat is held. Zero holds it forever.
func WithReconnectGrace(d time.Duration) Option { return func(m *Manager) { m.grace = d } }

// WithLobbyTTL sets how long a freshly created room may sit with nobody in it.
func WithLobbyTTL(d time.Duration) Option { return func(m *Manager) { m.lobbyTTL = d } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager subscribes the manager to store commits so it can track disconnections.
func NewManager(store *session.Store, codes *roomcode.Allocator, secrets *secret.Assigner, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		codes:    codes,
		secrets:  secrets,
		log:      log.Named("lobby"),
		now:      time.Now,
		grace:    60 * time.Second,
		lobbyTTL: 10 * time.Minute,
		timers:   make(map[string]map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	store.Subscribe(m)
	return m
}

// Seat is what a successful join or reconnect hands back to the connection. Token is the
// raw reconnection token; it is only ever sent to the seat's own client.
type Seat struct {
	Participant engine.Participant
	Token       string
	Commit      session.Commit
}

type JoinRequest struct {
	Code     string
	Identity auth.Identity
	Name     string
	Token    string // set when the client already holds a seat in this room
	Handle   string
}

// Create allocates a room code and opens a lobby under it.
func (m *Manager) Create(ctx context.Context, rules engine.Rules) (engine.State, error) {
	code, err := m.codes.Allocate()
	if err != nil {
		return engine.State{}, err
	}
	st, err := m.store.Create(ctx, code, rules)
	if err != nil {
		m.codes.Release(code)
		return engine.State{}, err
	}
	if m.lobbyTTL > 0 {
		// Since pins the timer to this room, not to a later one that reuses the code.
		created := st.CreatedAt
		time.AfterFunc(m.lobbyTTL, func() { m.fire(code, engine.Command{Type: engine.CmdExpireLobby, Since: created}) })
	}
	return st, nil
}

func (m *Manager) Join(ctx context.Context, req JoinRequest) (Seat, error) {
	code := roomcode.Normalize(req.Code)
	if req.Token != "" {
		if tc, err := codeOf(req.Token); err != nil || (code != "" && tc != code) {
			return Seat{}, engine.ErrInvalidToken
		}
		return m.Reconnect(ctx, req.Token, req.Handle)
	}
	if code == "" {
		return Seat{}, engine.ErrRoomNotFound
	}

	name := CleanName(req.Name)
	if name == "" {
		name = CleanName(req.Identity.DisplayName)
	}
	token, err := newToken(code)
	if err != nil {
		return Seat{}, err
	}
	hash := HashToken(token)

	commit, err := m.store.Apply(ctx, code, engine.Command{
		Type:          engine.CmdJoin,
		ParticipantID: uuid.NewString(),
		UserID:        req.Identity.UserID,
		DisplayName:   name,
		Handle:        req.Handle,
		TokenHash:     hash,
		Now:           m.now(),
	})
	if err != nil {
		return Seat{}, err
	}
	p, ok := seatByHash(commit.State, hash)
	if !ok {
		return Seat{}, engine.Errorf(engine.KindInternal, "joined seat missing from room %s", code)
	}
	m.log.Info("participant joined", zap.String("room", code), zap.String("participant", p.ID), zap.Int("version", commit.Version))
	return Seat{Participant: p, Token: token, Commit: commit}, nil
}

// Reconnect re-attaches handle to the seat holding token and rotates the token.
func (m *Manager) Reconnect(ctx context.Context, token, handle string) (Seat, error) {
	code, err := codeOf(token)
	if err != nil {
		return Seat{}, err
	}
	next, err := newToken(code)
	if err != nil {
		return Seat{}, err
	}
	hash := HashToken(next)

	commit, err := m.store.Apply(ctx, code, engine.Command{
		Type:          engine.CmdReconnect,
		PresentedHash: HashToken(token),
		TokenHash:     hash,
		Handle:        handle,
		Grace:         m.grace,
		Now:           m.now(),
	})
	if errors.Is(err, engine.ErrRoomNotFound) {
		return Seat{}, engine.ErrInvalidToken
	}
	if err != nil {
		return Seat{}, err
	}
	p, ok := seatByHash(commit.State, hash)
	if !ok {
		return Seat{}, engine.Errorf(engine.KindInternal, "reconnected seat missing from room %s", code)
	}
	m.log.Info("participant reconnected", zap.String("room", code), zap.String("participant", p.ID), zap.Int("version", commit.Version))
	return Seat{Participant: p, Token: next, Commit: commit}, nil
}

func (m *Manager) SetReady(ctx context.Context, code, participantID string, ready bool) (session.Commit, error) {
	return m.store.Apply(ctx, code, engine.Command{Type: engine.CmdSetReady, ParticipantID: participantID, Ready: ready, Now: m.now()})
}

// Leave removes the seat in the lobby. Mid-match it only marks the seat disconnected and
// the reconnection window starts.
func (m *Manager) Leave(ctx context.Context, code, participantID string) (session.Commit, error) {
	return m.store.Apply(ctx, code, engine.Command{Type: engine.CmdLeave, ParticipantID: participantID, Now: m.now()})
}

// Disconnect records transport loss for the seat, unless handle was already superseded.
func (m *Manager) Disconnect(ctx context.Context, code, participantID, handle string) error {
	_, err := m.store.Apply(ctx, code, engine.Command{Type: engine.CmdDisconnect, ParticipantID: participantID, Handle: handle, Now: m.now()})
	return err
}

// Start checks the gate, fetches the board outside the room, then assigns secrets and
// opens round 1 in one transition.
func (m *Manager) Start(ctx context.Context, code, requestedBy string) (session.Commit, error) {
	view, err := m.store.Snapshot(ctx, code)
	if err != nil {
		return session.Commit{}, err
	}
	if err := engine.CanStart(view.State, requestedBy); err != nil {
		return session.Commit{}, err
	}
	board, err := m.secrets.Board(ctx, view.State)
	if err != nil {
		return session.Commit{}, err
	}

	commit, err := m.store.WithSession(ctx, code, func(s engine.State) ([]engine.Event, engine.State, error) {
		if err := engine.CanStart(s, requestedBy); err != nil {
			return nil, s, err
		}
		secrets, err := m.secrets.Pick(s, board)
		if err != nil {
			return nil, s, err
		}
		return engine.Apply(s, engine.Command{
			Type:          engine.CmdStart,
			ParticipantID: requestedBy,
			Secrets:       secrets,
			Board:         board,
			Now:           m.now(),
		})
	})
	if err != nil {
		return commit, err
	}
	m.log.Info("match started", zap.String("room", code), zap.Int("version", commit.Version))
	return commit, nil
}

// Committed tracks reconnection windows. It runs on the room goroutine.
func (m *Manager) Committed(c session.Commit) {
	if c.State.Status.Terminal() {
		m.disarmRoom(c.Code)
		return
	}
	for _, e := range c.Events {
		switch e.Type {
		case engine.EvtParticipantDisconnected:
			if p, ok := c.State.Participant(e.ParticipantID); ok {
				m.arm(c.Code, p.ID, p.DisconnectedAt)
			}
		case engine.EvtParticipantReconnected, engine.EvtParticipantLeft:
			m.disarm(c.Code, e.ParticipantID)
		}
	}
}

// Evicted releases the room code and any timers left for it.
func (m *Manager) Evicted(code string) {
	m.disarmRoom(code)
	m.codes.Release(code)
}

func (m *Manager) arm(code, participantID string, since time.Time) {
	if m.grace <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.timers[code]
	if room == nil {
		room = make(map[string]*time.Timer)
		m.timers[code] = room
	}
	if t := room[participantID]; t != nil {
		t.Stop()
	}
	room[participantID] = time.AfterFunc(m.grace, func() {
		m.fire(code, engine.Command{Type: engine.CmdGraceExpired, ParticipantID: participantID, Since: since})
	})
}

func (m *Manager) disarm(code, participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.timers[code][participantID]; t != nil {
		t.Stop()
		delete(m.timers[code], participantID)
	}
}

func (m *Manager) disarmRoom(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers[code] {
		t.Stop()
	}
	delete(m.timers, code)
}

// fire applies a timer-driven command through the normal serialized path.
func (m *Manager) fire(code string, cmd engine.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd.Now = m.now()
	_, err := m.store.Apply(ctx, code, cmd)
	switch {
	case err == nil:
		m.log.Debug("timer applied", zap.String("room", code), zap.String("event", string(cmd.Type)), zap.String("participant", cmd.ParticipantID))
	case errors.Is(err, engine.ErrStaleTimer), errors.Is(err, engine.ErrRoomNotFound):
	default:
		m.log.Warn("timer failed", zap.String("room", code), zap.String("event", string(cmd.Type)), zap.Error(err))
	}
}

func seatByHash(s engine.State, hash string) (engine.Participant, bool) {
	for _, p := range s.Participants {
		if p.TokenHash == hash {
			return p, true
		}
	}
	return engine.Participant{}, false
}
