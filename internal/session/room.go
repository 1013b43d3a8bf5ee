package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

// TransitionFunc reads the current state and proposes the next one. It runs on the room
// goroutine, so it must not call back into the store for the same room.
type TransitionFunc func(s engine.State) ([]engine.Event, engine.State, error)

type Msg interface{ isRoomMsg() }

type Transition struct {
	Ctx   context.Context
	Fn    TransitionFunc
	Reply chan Result // buffered, capacity 1
}

func (Transition) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// Commit is one accepted transition. Version increases by one per commit.
type Commit struct {
	Code    string
	Version int
	State   engine.State
	Events  []engine.Event
}

type Result struct {
	Commit Commit
	Err    error
}

type View struct {
	Version int
	State   engine.State
}

// Room owns one session. Every transition for the room is applied by loop, one at a time,
// in the order it reached the inbox.
type Room struct {
	code    string
	inbox   chan Msg
	state   engine.State
	version int
	store   *Store
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	log     *zap.Logger

	evictScheduled bool
}

func newRoom(parent context.Context, st *Store, initial engine.State) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:   initial.Code,
		inbox:  make(chan Msg, 64),
		state:  initial,
		store:  st,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    st.log.With(zap.String("room", initial.Code)),
	}

	go r.loop()
	return r
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Transition:
				msg.Reply <- r.apply(msg)

			case GetState:
				msg.Reply <- View{Version: r.version, State: r.state.Clone()}

			case Shutdown:
				r.cancel()
				return
			}
		}
	}
}

func (r *Room) apply(msg Transition) Result {
	if msg.Ctx != nil {
		if err := msg.Ctx.Err(); err != nil {
			return Result{Err: err}
		}
	}

	events, next, err := msg.Fn(r.state)
	corrupted := err != nil && engine.KindOf(err) == engine.KindSessionCorrupted
	if err != nil && !corrupted {
		return Result{Err: err}
	}
	if len(events) == 0 {
		// Accepted no-op: nothing to version or broadcast.
		r.state = next
		return Result{Commit: Commit{Code: r.code, Version: r.version, State: next.Clone()}}
	}

	r.state = next
	r.version++
	commit := Commit{Code: r.code, Version: r.version, State: next.Clone(), Events: events}

	if corrupted {
		r.log.Error("session corrupted", zap.Int("version", r.version), zap.Error(err))
	}
	for _, l := range r.store.listenerSnapshot() {
		l.Committed(commit)
	}
	r.settle()

	return Result{Commit: commit, Err: err}
}

// settle arranges eviction once the session can no longer make progress.
func (r *Room) settle() {
	if r.evictScheduled {
		return
	}
	switch {
	case r.state.Abandoned():
		r.evictScheduled = true
		go r.store.Evict(r.code)
	case r.state.Status.Terminal():
		r.evictScheduled = true
		r.store.evictAfter(r.code, r.store.evictGrace)
	}
}

// Expose the inbox so tests can talk to the room directly.
func (r *Room) Inbox() chan<- Msg { return r.inbox }
