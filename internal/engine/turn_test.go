package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_AskAnswerRotatesTurn(t *testing.T) {
	s := startedState(t)
	require.Equal(t, hostID, s.Round.ActiveID)

	_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Does your character wear glasses?", Category: CategoryTrait})
	require.Equal(t, RoundAwaitingAnswer, s.Round.State)
	assert.Equal(t, playerID, s.Round.Question.AddresseeID)

	events, s := mustApply(t, s, Command{Type: CmdSubmitAnswer, ParticipantID: playerID, Answer: AnswerNo, Now: t0.Add(4 * time.Second)})

	assert.True(t, ContainsEvent(events, EvtRoundClosed))
	assert.Equal(t, 2, s.Round.Number)
	assert.Equal(t, playerID, s.Round.ActiveID)
	assert.Equal(t, RoundAwaitingQuestion, s.Round.State)
	require.Len(t, s.History, 1)
	assert.Equal(t, RoundClosed, s.History[0].State)
	assert.Equal(t, 4*time.Second, s.History[0].Answer.Latency)
}

func TestScenario_WrongGuessCostsTheTurn(t *testing.T) {
	s := startedState(t)
	_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"})
	_, s = mustApply(t, s, Command{Type: CmdSubmitAnswer, ParticipantID: playerID, Answer: AnswerYes})
	require.Equal(t, playerID, s.Round.ActiveID)

	events, s := mustApply(t, s, Command{Type: CmdMakeGuess, ParticipantID: playerID, CharacterID: "char-03"})

	assert.Equal(t, StatusPlaying, s.Status)
	assert.Equal(t, 3, s.Round.Number)
	assert.Equal(t, hostID, s.Round.ActiveID)
	assert.Equal(t, RoundAwaitingQuestion, s.Round.State)
	assert.Equal(t, VisibilityHidden, s.Secrets[playerID].Visibility)
	assert.Equal(t, VisibilityHidden, s.Secrets[hostID].Visibility)
	closed := s.History[len(s.History)-1]
	assert.Equal(t, RoundClosed, closed.State)
	assert.False(t, closed.Guess.Correct)
	assert.False(t, ContainsEvent(events, EvtSecretRevealed))
}

func TestScenario_CorrectGuessWins(t *testing.T) {
	s := startedState(t)

	events, s := mustApply(t, s, Command{Type: CmdMakeGuess, ParticipantID: hostID, CharacterID: hostChar})

	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, hostID, s.WinnerID)
	assert.Equal(t, VisibilityRevealed, s.Secrets[hostID].Visibility)
	assert.Equal(t, RoundClosed, s.Round.State)
	assert.True(t, s.Round.Guess.Correct)
	assert.True(t, ContainsEvent(events, EvtMatchFinished))
}

func TestGuess_LegalWhileAwaitingAnswer(t *testing.T) {
	s := startedState(t)
	_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Beard?"})

	_, s = mustApply(t, s, Command{Type: CmdMakeGuess, ParticipantID: hostID, CharacterID: "char-01"})

	assert.Equal(t, playerID, s.Round.ActiveID)
	assert.Equal(t, 2, s.Round.Number)
}

func TestTurnAlternation_StrictWithoutWrongGuesses(t *testing.T) {
	s := startedState(t)
	want := hostID
	for round := 1; round <= 8; round++ {
		require.Equal(t, round, s.Round.Number)
		require.Equal(t, want, s.Round.ActiveID, "round %d", round)

		other := s.Opponent(want)
		_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: want, Text: "Red hair?"})
		_, s = mustApply(t, s, Command{Type: CmdSubmitAnswer, ParticipantID: other, Answer: AnswerUnsure})
		want = other
	}
}

func TestWrongGuessPenalty_NeverSkipsOrDoubleRotates(t *testing.T) {
	s := startedState(t)
	active := hostID
	for i := 0; i < 6; i++ {
		_, s = mustApply(t, s, Command{Type: CmdMakeGuess, ParticipantID: active, CharacterID: "char-20"})
		require.NotEqual(t, active, s.Round.ActiveID)
		active = s.Round.ActiveID
	}
	assert.Equal(t, 7, s.Round.Number)
	assert.Equal(t, hostID, s.Round.ActiveID)
}

func TestTurnActions_Rejections(t *testing.T) {
	asked := func(t *testing.T) State {
		_, s := mustApply(t, startedState(t), Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"})
		return s
	}

	cases := []struct {
		name    string
		setup   func(t *testing.T) State
		cmd     Command
		wantErr error
	}{
		{name: "ask out of turn", setup: startedState, cmd: Command{Type: CmdAskQuestion, ParticipantID: playerID, Text: "Hat?"}, wantErr: ErrNotYourTurn},
		{name: "answer with no question", setup: startedState, cmd: Command{Type: CmdSubmitAnswer, ParticipantID: playerID, Answer: AnswerYes}, wantErr: ErrNotYourTurn},
		{name: "asker answers own question", setup: asked, cmd: Command{Type: CmdSubmitAnswer, ParticipantID: hostID, Answer: AnswerYes}, wantErr: ErrNotAddressee},
		{name: "second question while unanswered", setup: asked, cmd: Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hair?"}, wantErr: ErrNotYourTurn},
		{name: "guess out of turn", setup: startedState, cmd: Command{Type: CmdMakeGuess, ParticipantID: playerID, CharacterID: plyrChar}, wantErr: ErrNotYourTurn},
		{name: "guess off the board", setup: startedState, cmd: Command{Type: CmdMakeGuess, ParticipantID: hostID, CharacterID: "char-99"}, wantErr: ErrInvalidArgument},
		{name: "guess the held character", setup: startedState, cmd: Command{Type: CmdMakeGuess, ParticipantID: hostID, CharacterID: plyrChar}, wantErr: ErrInvalidArgument},
		{name: "empty question", setup: startedState, cmd: Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "   "}, wantErr: ErrInvalidArgument},
		{name: "bad category", setup: startedState, cmd: Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?", Category: "gossip"}, wantErr: ErrInvalidArgument},
		{name: "bad answer", setup: asked, cmd: Command{Type: CmdSubmitAnswer, ParticipantID: playerID, Answer: "maybe"}, wantErr: ErrInvalidArgument},
		{name: "ask in lobby", setup: lobbyWithTwo, cmd: Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"}, wantErr: ErrNotPlaying},
		{name: "stranger", setup: startedState, cmd: Command{Type: CmdMakeGuess, ParticipantID: "ghost", CharacterID: hostChar}, wantErr: ErrNotAParticipant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.setup(t)
			tc.cmd.Now = t0
			events, next, err := Apply(s, tc.cmd)
			if err == nil || !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			assert.Nil(t, events)
			assert.Equal(t, s, next)
		})
	}
}

func TestTurnTimeout(t *testing.T) {
	timed := func(t *testing.T) State {
		t.Helper()
		s := lobbyWithTwo(t)
		s.Rules.TurnTimerSec = 30
		_, s = mustApply(t, s, Command{Type: CmdSetReady, ParticipantID: hostID, Ready: true})
		_, s = mustApply(t, s, Command{Type: CmdSetReady, ParticipantID: playerID, Ready: true})
		_, s = mustApply(t, s, Command{Type: CmdStart, ParticipantID: hostID, Secrets: testSecrets(), Board: testBoard()})
		return s
	}

	t.Run("round carries a deadline", func(t *testing.T) {
		s := timed(t)
		assert.Equal(t, t0.Add(30*time.Second), s.Round.Deadline)
	})

	t.Run("unanswered question becomes unsure and rotates", func(t *testing.T) {
		s := timed(t)
		_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"})
		events, s := mustApply(t, s, Command{Type: CmdTurnTimeout, Round: 1, Expect: RoundAwaitingAnswer, Now: t0.Add(30 * time.Second)})

		assert.True(t, ContainsEvent(events, EvtTurnTimedOut))
		answered := s.History[0]
		assert.Equal(t, AnswerUnsure, answered.Answer.Value)
		assert.True(t, answered.Answer.Synthetic)
		assert.Equal(t, CloseTimedOut, answered.Reason)
		assert.Equal(t, playerID, s.Round.ActiveID)
	})

	t.Run("idle asker forfeits the round", func(t *testing.T) {
		s := timed(t)
		_, s = mustApply(t, s, Command{Type: CmdTurnTimeout, Round: 1, Expect: RoundAwaitingQuestion})
		assert.Equal(t, 2, s.Round.Number)
		assert.Equal(t, playerID, s.Round.ActiveID)
	})

	t.Run("timer for a superseded sub-state is stale", func(t *testing.T) {
		s := timed(t)
		_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"})
		_, _, err := Apply(s, Command{Type: CmdTurnTimeout, Round: 1, Expect: RoundAwaitingQuestion, Now: t0})
		assert.ErrorIs(t, err, ErrStaleTimer)
	})
}

func TestGuess_MissingSecretCancelsSession(t *testing.T) {
	s := startedState(t)
	delete(s.Secrets, hostID)

	events, next, err := Apply(s, Command{Type: CmdMakeGuess, ParticipantID: hostID, CharacterID: hostChar, Now: t0})

	require.ErrorIs(t, err, ErrSessionCorrupted)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.True(t, ContainsEvent(events, EvtSessionCancelled))
}

// Every round is in exactly one sub-state and only the newest round is open.
func TestRounds_SingleOpenRound(t *testing.T) {
	s := startedState(t)
	_, s = mustApply(t, s, Command{Type: CmdAskQuestion, ParticipantID: hostID, Text: "Hat?"})
	_, s = mustApply(t, s, Command{Type: CmdSubmitAnswer, ParticipantID: playerID, Answer: AnswerYes})
	_, s = mustApply(t, s, Command{Type: CmdMakeGuess, ParticipantID: playerID, CharacterID: "char-01"})

	for i, r := range s.History {
		assert.Equal(t, RoundClosed, r.State)
		assert.Equal(t, i+1, r.Number)
	}
	assert.NotEqual(t, RoundClosed, s.Round.State)
	assert.Equal(t, len(s.History)+1, s.Round.Number)
}
