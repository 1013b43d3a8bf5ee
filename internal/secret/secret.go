// Package secret binds one catalog character to each seat at match start.
//
// A Secret is keyed by its seeker: Secrets[p] is the character p must guess. The holder
// (p's opponent) sees it from the start; p only sees it once it is revealed.
package secret

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/DoyleJ11/guess-who-backend/internal/catalog"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

type Assigner struct {
	catalog catalog.Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Assigner)

// WithSeed makes assignments reproducible.
func WithSeed(seed1, seed2 uint64) Option {
	return func(a *Assigner) { a.rng = rand.New(rand.NewPCG(seed1, seed2)) }
}

func NewAssigner(cat catalog.Catalog, opts ...Option) *Assigner {
	a := &Assigner{
		catalog: cat,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Board fetches the character set the session is configured for.
func (a *Assigner) Board(ctx context.Context, s engine.State) ([]engine.Character, error) {
	setID := s.Rules.CharacterSetID
	if setID == "" {
		setID = catalog.DefaultSet
	}
	board, err := a.catalog.Characters(ctx, setID)
	if err != nil {
		return nil, err
	}
	if len(board) < engine.MaxParticipants {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "character set %q has %d characters", setID, len(board))
	}
	return board, nil
}

// Pick chooses distinct characters uniformly at random from board, one per seat.
// It does no I/O and is safe to call on a room goroutine.
func (a *Assigner) Pick(s engine.State, board []engine.Character) (map[string]engine.Secret, error) {
	if s.Status != engine.StatusLobby || len(s.Secrets) > 0 {
		return nil, engine.ErrAlreadyAssigned
	}
	if len(s.Participants) != engine.MaxParticipants {
		return nil, engine.ErrInsufficientPlayers
	}
	if len(board) < len(s.Participants) {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "board has %d characters", len(board))
	}

	a.mu.Lock()
	first := a.rng.IntN(len(board))
	second := a.rng.IntN(len(board) - 1)
	a.mu.Unlock()
	if second >= first {
		second++
	}

	picks := [engine.MaxParticipants]int{first, second}
	secrets := make(map[string]engine.Secret, len(s.Participants))
	for i, p := range s.Participants {
		secrets[p.ID] = engine.Secret{
			SeekerID:    p.ID,
			HolderID:    s.Opponent(p.ID),
			CharacterID: board[picks[i]].ID,
			Visibility:  engine.VisibilityHidden,
		}
	}
	return secrets, nil
}
