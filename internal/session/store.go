// Package session holds the authoritative state of every live match. State for a room is
// only ever changed on that room's goroutine; rooms never wait on each other.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

// Listener observes every commit. It is called on the committing room's goroutine, in
// commit order, and must not block or call back into the store synchronously.
type Listener interface {
	Committed(c Commit)
}

// EvictionListener is notified after a room has been removed.
type EvictionListener interface {
	Evicted(code string)
}

type StoreMsg interface{ isStoreMsg() }

type CreateRoom struct {
	State engine.State
	Reply chan *Room // nil when the code is already live
}

type GetRoom struct {
	Code  string
	Reply chan *Room
}

type RemoveRoom struct {
	Code  string
	Reply chan *Room
}

type ShutdownStore struct {
	Reply chan struct{}
}

func (CreateRoom) isStoreMsg()    {}
func (GetRoom) isStoreMsg()       {}
func (RemoveRoom) isStoreMsg()    {}
func (ShutdownStore) isStoreMsg() {}

type Store struct {
	inbox chan StoreMsg
	rooms map[string]*Room
	ctx   context.Context
	log   *zap.Logger

	evictGrace time.Duration

	mu        sync.RWMutex
	listeners []Listener
}

type Option func(*Store)

// WithEvictGrace keeps finished or cancelled sessions around for d so clients can read
// the outcome.
func WithEvictGrace(d time.Duration) Option { return func(s *Store) { s.evictGrace = d } }

func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

func NewStore(parent context.Context, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		inbox:      make(chan StoreMsg, 64),
		rooms:      make(map[string]*Room),
		ctx:        parent,
		log:        log.Named("store"),
		evictGrace: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

func (s *Store) Inbox() chan<- StoreMsg { return s.inbox }

// Subscribe adds a listener. Listeners see commits made after they subscribe.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) listenerSnapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			for _, r := range s.rooms {
				r.cancel()
			}
			clear(s.rooms)
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if s.rooms[msg.State.Code] != nil {
					msg.Reply <- nil
					break
				}
				r := newRoom(s.ctx, s, msg.State)
				s.rooms[msg.State.Code] = r
				msg.Reply <- r

			case GetRoom:
				msg.Reply <- s.rooms[msg.Code] // May be nil

			case RemoveRoom:
				r := s.rooms[msg.Code]
				delete(s.rooms, msg.Code)
				msg.Reply <- r

			case ShutdownStore:
				for _, r := range s.rooms {
					r.Inbox() <- Shutdown{}
				}
				clear(s.rooms)
				msg.Reply <- struct{}{}
				return
			}
		}
	}
}

// ask sends a registry request and waits for the reply unless ctx or the store ends first.
func (s *Store) ask(ctx context.Context, msg StoreMsg, reply chan *Room) (*Room, error) {
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, engine.ErrRoomNotFound
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, engine.ErrRoomNotFound
	}
}

// Create registers a new session in the lobby state. It fails with ErrAlreadyExists when
// the code is live.
func (s *Store) Create(ctx context.Context, code string, rules engine.Rules) (engine.State, error) {
	initial := engine.NewState(code, rules, time.Now())
	reply := make(chan *Room, 1)
	r, err := s.ask(ctx, CreateRoom{State: initial, Reply: reply}, reply)
	if err != nil {
		return engine.State{}, err
	}
	if r == nil {
		return engine.State{}, engine.ErrAlreadyExists
	}
	s.log.Info("session created", zap.String("room", code))
	return initial, nil
}

func (s *Store) room(ctx context.Context, code string) (*Room, error) {
	reply := make(chan *Room, 1)
	r, err := s.ask(ctx, GetRoom{Code: code, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, engine.ErrRoomNotFound
	}
	return r, nil
}

// Exists reports whether code belongs to a live session.
func (s *Store) Exists(code string) bool {
	r, err := s.room(context.Background(), code)
	return err == nil && r != nil
}

// WithSession runs fn on the room's goroutine. At most one transition per room is in
// flight; transitions for different rooms run in parallel.
func (s *Store) WithSession(ctx context.Context, code string, fn TransitionFunc) (Commit, error) {
	r, err := s.room(ctx, code)
	if err != nil {
		return Commit{}, err
	}

	reply := make(chan Result, 1)
	select {
	case r.inbox <- Transition{Ctx: ctx, Fn: fn, Reply: reply}:
	case <-r.done:
		return Commit{}, engine.ErrRoomNotFound
	case <-ctx.Done():
		return Commit{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Commit, res.Err
	case <-r.done:
		return Commit{}, engine.ErrRoomNotFound
	case <-ctx.Done():
		return Commit{}, ctx.Err()
	}
}

// Apply is WithSession for a plain engine command.
func (s *Store) Apply(ctx context.Context, code string, cmd engine.Command) (Commit, error) {
	return s.WithSession(ctx, code, func(st engine.State) ([]engine.Event, engine.State, error) {
		return engine.Apply(st, cmd)
	})
}

// Snapshot returns the current state and version of a room.
func (s *Store) Snapshot(ctx context.Context, code string) (View, error) {
	r, err := s.room(ctx, code)
	if err != nil {
		return View{}, err
	}
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-r.done:
		return View{}, engine.ErrRoomNotFound
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, engine.ErrRoomNotFound
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Evict removes a session and stops its goroutine. Evicting an unknown code is a no-op.
func (s *Store) Evict(code string) {
	reply := make(chan *Room, 1)
	r, err := s.ask(context.Background(), RemoveRoom{Code: code, Reply: reply}, reply)
	if err != nil || r == nil {
		return
	}
	r.cancel()
	<-r.done

	s.log.Info("session evicted", zap.String("room", code))
	for _, l := range s.listenerSnapshot() {
		if el, ok := l.(EvictionListener); ok {
			el.Evicted(code)
		}
	}
}

func (s *Store) evictAfter(code string, d time.Duration) {
	time.AfterFunc(d, func() { s.Evict(code) })
}

// Close stops every room and the registry.
func (s *Store) Close() {
	reply := make(chan struct{}, 1)
	select {
	case s.inbox <- ShutdownStore{Reply: reply}:
		<-reply
	case <-s.ctx.Done():
	}
}
