// Package turn drives in-match actions and the per-round turn timer.
package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/session"
)

type Service struct {
	store *session.Store
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	timers map[string]*roundTimer
}

// roundTimer is armed for one (round, state) pair. A fire for a pair that has moved on is
// rejected by the engine as stale.
type roundTimer struct {
	round int
	state engine.RoundState
	t     *time.Timer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store *session.Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    log.Named("turn"),
		now:    time.Now,
		timers: make(map[string]*roundTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	store.Subscribe(s)
	return s
}

func (s *Service) Ask(ctx context.Context, code, participantID, text string, category engine.Category) (session.Commit, error) {
	return s.store.Apply(ctx, code, engine.Command{
		Type:          engine.CmdAskQuestion,
		ParticipantID: participantID,
		Text:          text,
		Category:      category,
		Now:           s.now(),
	})
}

func (s *Service) Answer(ctx context.Context, code, participantID string, value engine.AnswerValue, text string) (session.Commit, error) {
	return s.store.Apply(ctx, code, engine.Command{
		Type:          engine.CmdSubmitAnswer,
		ParticipantID: participantID,
		Answer:        value,
		Text:          text,
		Now:           s.now(),
	})
}

func (s *Service) Guess(ctx context.Context, code, participantID, characterID string) (session.Commit, error) {
	c, err := s.store.Apply(ctx, code, engine.Command{
		Type:          engine.CmdMakeGuess,
		ParticipantID: participantID,
		CharacterID:   characterID,
		Now:           s.now(),
	})
	if err == nil && c.State.Status == engine.StatusFinished {
		s.log.Info("match finished", zap.String("room", code), zap.String("participant", c.State.WinnerID), zap.Int("version", c.Version))
	}
	return c, err
}

// Committed re-arms the room's turn timer whenever the open round or its sub-state
// changes. It runs on the room goroutine.
func (s *Service) Committed(c session.Commit) {
	r := c.State.Round
	if c.State.Status != engine.StatusPlaying || r == nil || r.State == engine.RoundClosed || r.Deadline.IsZero() {
		s.stop(c.Code)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.timers[c.Code]; cur != nil {
		if cur.round == r.Number && cur.state == r.State {
			return
		}
		cur.t.Stop()
	}

	code, number, state := c.Code, r.Number, r.State
	s.timers[code] = &roundTimer{
		round: number,
		state: state,
		t:     time.AfterFunc(r.Deadline.Sub(s.now()), func() { s.expire(code, number, state) }),
	}
}

func (s *Service) Evicted(code string) { s.stop(code) }

func (s *Service) stop(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.timers[code]; cur != nil {
		cur.t.Stop()
		delete(s.timers, code)
	}
}

// expire issues the timeout through the same serialized path as player actions, so it
// cannot race a move that lands first.
func (s *Service) expire(code string, round int, state engine.RoundState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.store.Apply(ctx, code, engine.Command{Type: engine.CmdTurnTimeout, Round: round, Expect: state, Now: s.now()})
	switch {
	case err == nil:
		s.log.Debug("turn timed out", zap.String("room", code), zap.Int("round", round), zap.String("state", string(state)))
	case errors.Is(err, engine.ErrStaleTimer), errors.Is(err, engine.ErrRoomNotFound):
	default:
		s.log.Warn("turn timeout failed", zap.String("room", code), zap.Error(err))
	}
}
