package secret

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/guess-who-backend/internal/catalog"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

func lobbyState() engine.State {
	s := engine.NewState("AB3X9", engine.Rules{CharacterSetID: "mini"}, time.Unix(0, 0))
	s.Participants = []engine.Participant{
		{ID: "host", Role: engine.RoleHost, Ready: true, Presence: engine.PresenceConnected},
		{ID: "player", Role: engine.RolePlayer, Ready: true, Presence: engine.PresenceConnected},
	}
	return s
}

func miniCatalog(n int) catalog.Catalog {
	chars := make([]engine.Character, n)
	for i := range chars {
		chars[i] = engine.Character{ID: string(rune('a' + i))}
	}
	return catalog.StaticFrom(map[string][]engine.Character{"mini": chars})
}

// assign runs the two halves of a match start the way the lobby does.
func assign(a *Assigner, s engine.State) (map[string]engine.Secret, []engine.Character, error) {
	board, err := a.Board(context.Background(), s)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := a.Pick(s, board)
	return secrets, board, err
}

func TestBoardThenPick_BindsOneDistinctSecretPerSeeker(t *testing.T) {
	a := NewAssigner(miniCatalog(6), WithSeed(1, 2))
	secrets, board, err := assign(a, lobbyState())
	require.NoError(t, err)
	assert.Len(t, board, 6)
	require.Len(t, secrets, 2)

	host, player := secrets["host"], secrets["player"]
	assert.Equal(t, "host", host.SeekerID)
	assert.Equal(t, "player", host.HolderID)
	assert.Equal(t, "player", player.SeekerID)
	assert.Equal(t, "host", player.HolderID)
	assert.NotEqual(t, host.CharacterID, player.CharacterID)
	assert.Equal(t, engine.VisibilityHidden, host.Visibility)
}

func TestBoardThenPick_SeededIsReproducible(t *testing.T) {
	first, _, err := assign(NewAssigner(miniCatalog(24), WithSeed(42, 7)), lobbyState())
	require.NoError(t, err)
	second, _, err := assign(NewAssigner(miniCatalog(24), WithSeed(42, 7)), lobbyState())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBoardThenPick_AlreadyAssigned(t *testing.T) {
	a := NewAssigner(miniCatalog(6), WithSeed(1, 2))

	s := lobbyState()
	s.Status = engine.StatusPlaying
	_, _, err := assign(a, s)
	assert.ErrorIs(t, err, engine.ErrAlreadyAssigned)

	s = lobbyState()
	s.Secrets["host"] = engine.Secret{SeekerID: "host", CharacterID: "a"}
	_, err = a.Pick(s, []engine.Character{{ID: "a"}, {ID: "b"}})
	assert.ErrorIs(t, err, engine.ErrAlreadyAssigned)
}

func TestBoardThenPick_CatalogTooSmall(t *testing.T) {
	_, _, err := assign(NewAssigner(miniCatalog(1)), lobbyState())
	assert.ErrorIs(t, err, engine.ErrCatalogUnavailable)

	s := lobbyState()
	s.Rules.CharacterSetID = "unknown"
	_, _, err = assign(NewAssigner(miniCatalog(6)), s)
	assert.ErrorIs(t, err, engine.ErrCatalogUnavailable)
}

func TestBoardThenPick_DefaultSetIsClassic(t *testing.T) {
	static, err := catalog.NewStatic()
	require.NoError(t, err)

	s := lobbyState()
	s.Rules.CharacterSetID = ""
	secrets, board, err := assign(NewAssigner(static, WithSeed(3, 4)), s)
	require.NoError(t, err)
	assert.Len(t, board, 24)
	assert.Len(t, secrets, 2)
}

func TestPick_RequiresTwoSeats(t *testing.T) {
	s := lobbyState()
	s.Participants = s.Participants[:1]
	_, err := NewAssigner(miniCatalog(6)).Pick(s, []engine.Character{{ID: "a"}, {ID: "b"}})
	assert.ErrorIs(t, err, engine.ErrInsufficientPlayers)
}

func TestPick_CoversWholeBoard(t *testing.T) {
	a := NewAssigner(nil, WithSeed(9, 9))
	board := []engine.Character{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		secrets, err := a.Pick(lobbyState(), board)
		require.NoError(t, err)
		require.NotEqual(t, secrets["host"].CharacterID, secrets["player"].CharacterID)
		counts[secrets["host"].CharacterID]++
		counts[secrets["player"].CharacterID]++
	}
	// 4000 draws over 4 characters; each should land near 1000.
	for _, c := range board {
		assert.InDelta(t, 1000, counts[c.ID], 200, "character %s", c.ID)
	}
}
