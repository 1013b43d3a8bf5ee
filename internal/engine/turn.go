package engine

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLen bounds question and answer text, in runes.
const MaxTextLen = 280

// openRound archives the current round and opens the next one with activeID on turn.
// Round numbers only ever grow.
func openRound(s *State, activeID string, now time.Time) Event {
	number := 1
	if s.Round != nil {
		number = s.Round.Number + 1
		s.History = append(s.History, *s.Round)
	}
	s.Round = &Round{
		Number:    number,
		ActiveID:  activeID,
		State:     RoundAwaitingQuestion,
		StartedAt: now,
		Deadline:  deadline(s.Rules, now),
	}
	return Event{Type: EvtRoundOpened, Round: number, ParticipantID: activeID, At: now}
}

func closeRound(s *State, reason CloseReason, now time.Time) Event {
	s.Round.State = RoundClosed
	s.Round.Reason = reason
	s.Round.EndedAt = now
	s.Round.Deadline = time.Time{}
	return Event{Type: EvtRoundClosed, Round: s.Round.Number, ParticipantID: s.Round.ActiveID, Reason: string(reason), At: now}
}

// rotate closes the current round and hands the next one to the other seat. Every
// rotation goes through here, so a turn can never be skipped or handed over twice.
func rotate(s *State, reason CloseReason, now time.Time) []Event {
	next := s.Opponent(s.Round.ActiveID)
	return []Event{closeRound(s, reason, now), openRound(s, next, now)}
}

func deadline(r Rules, now time.Time) time.Time {
	if r.TurnTimerSec <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(r.TurnTimerSec) * time.Second)
}

// turnPrecheck guards every in-match action.
func turnPrecheck(s *State, cmd Command) ([]Event, error) {
	if s.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	if _, ok := s.Participant(cmd.ParticipantID); !ok {
		return nil, ErrNotAParticipant
	}
	if s.Round == nil || s.Round.State == RoundClosed {
		return corrupt(s, cmd.Now, "no open round")
	}
	return nil, nil
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxTextLen {
		return "", Errorf(KindInvalidArgument, "text longer than %d characters", MaxTextLen)
	}
	return text, nil
}

func askQuestion(s *State, cmd Command) ([]Event, error) {
	if events, err := turnPrecheck(s, cmd); err != nil {
		return events, err
	}
	r := s.Round
	if r.State != RoundAwaitingQuestion || r.ActiveID != cmd.ParticipantID {
		return nil, ErrNotYourTurn
	}

	text, err := cleanText(cmd.Text)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, Errorf(KindInvalidArgument, "question text is required")
	}
	category := cmd.Category
	switch category {
	case "":
		category = CategoryDirect
	case CategoryTrait, CategoryDirect, CategoryMeta:
	default:
		return nil, Errorf(KindInvalidArgument, "unknown question category %q", category)
	}

	addressee := s.Opponent(cmd.ParticipantID)
	r.Question = &Question{
		Text:        text,
		Category:    category,
		AskerID:     cmd.ParticipantID,
		AddresseeID: addressee,
		AskedAt:     cmd.Now,
	}
	r.State = RoundAwaitingAnswer
	r.Deadline = deadline(s.Rules, cmd.Now)

	return []Event{{
		Type:          EvtQuestionAsked,
		Round:         r.Number,
		ParticipantID: cmd.ParticipantID,
		TargetID:      addressee,
		Text:          text,
		Category:      category,
		At:            cmd.Now,
	}}, nil
}

func submitAnswer(s *State, cmd Command) ([]Event, error) {
	if events, err := turnPrecheck(s, cmd); err != nil {
		return events, err
	}
	r := s.Round
	if r.State != RoundAwaitingAnswer {
		return nil, ErrNotYourTurn
	}
	if r.Question == nil {
		return corrupt(s, cmd.Now, "awaiting answer without a question")
	}
	if r.Question.AddresseeID != cmd.ParticipantID {
		return nil, ErrNotAddressee
	}
	switch cmd.Answer {
	case AnswerYes, AnswerNo, AnswerUnsure:
	default:
		return nil, Errorf(KindInvalidArgument, "unknown answer %q", cmd.Answer)
	}
	text, err := cleanText(cmd.Text)
	if err != nil {
		return nil, err
	}

	return answer(s, cmd.Answer, text, false, cmd.Now), nil
}

func answer(s *State, value AnswerValue, text string, synthetic bool, now time.Time) []Event {
	r := s.Round
	r.Answer = &Answer{
		Value:       value,
		Text:        text,
		ResponderID: r.Question.AddresseeID,
		Latency:     now.Sub(r.Question.AskedAt),
		Synthetic:   synthetic,
	}
	events := []Event{{
		Type:          EvtAnswerSubmitted,
		Round:         r.Number,
		ParticipantID: r.Answer.ResponderID,
		TargetID:      r.Question.AskerID,
		Answer:        value,
		Text:          text,
		At:            now,
	}}
	reason := CloseAnswered
	if synthetic {
		reason = CloseTimedOut
	}
	return append(events, rotate(s, reason, now)...)
}

// makeGuess is legal for the active participant in any open sub-state. A wrong guess
// costs the turn; a right one ends the match. Guessing the character one holds is
// rejected outright.
func makeGuess(s *State, cmd Command) ([]Event, error) {
	if events, err := turnPrecheck(s, cmd); err != nil {
		return events, err
	}
	r := s.Round
	if r.ActiveID != cmd.ParticipantID {
		return nil, ErrNotYourTurn
	}
	if cmd.CharacterID == "" || !s.onBoard(cmd.CharacterID) {
		return nil, Errorf(KindInvalidArgument, "unknown character %q", cmd.CharacterID)
	}

	secret, ok := s.Secrets[cmd.ParticipantID]
	if !ok || secret.CharacterID == "" {
		return corrupt(s, cmd.Now, "no secret bound to guesser")
	}
	// The guesser holds the opponent's character, so it can never be their own target.
	if held := s.Secrets[s.Opponent(cmd.ParticipantID)]; held.CharacterID == cmd.CharacterID {
		return nil, Errorf(KindInvalidArgument, "%q is the character you hold", cmd.CharacterID)
	}

	correct := secret.CharacterID == cmd.CharacterID
	r.State = RoundAwaitingGuessResolution
	r.Guess = &Guess{
		GuesserID:   cmd.ParticipantID,
		TargetID:    secret.HolderID,
		CharacterID: cmd.CharacterID,
		Correct:     correct,
	}
	events := []Event{
		{Type: EvtGuessMade, Round: r.Number, ParticipantID: cmd.ParticipantID, TargetID: secret.HolderID, CharacterID: cmd.CharacterID, At: cmd.Now},
		{Type: EvtGuessResolved, Round: r.Number, ParticipantID: cmd.ParticipantID, TargetID: secret.HolderID, CharacterID: cmd.CharacterID, Correct: correct, At: cmd.Now},
	}

	if !correct {
		return append(events, rotate(s, CloseGuessed, cmd.Now)...), nil
	}

	events = append(events, closeRound(s, CloseGuessed, cmd.Now))
	return append(events, finish(s, cmd.ParticipantID, "guessed", cmd.Now)...), nil
}

func turnTimeout(s *State, cmd Command) ([]Event, error) {
	if s.Status != StatusPlaying || s.Round == nil || s.Round.Number != cmd.Round || s.Round.State != cmd.Expect {
		return nil, ErrStaleTimer
	}
	r := s.Round
	events := []Event{{Type: EvtTurnTimedOut, Round: r.Number, ParticipantID: r.ActiveID, Reason: string(r.State), At: cmd.Now}}

	switch r.State {
	case RoundAwaitingAnswer:
		if r.Question == nil {
			return corrupt(s, cmd.Now, "awaiting answer without a question")
		}
		return append(events, answer(s, AnswerUnsure, "", true, cmd.Now)...), nil
	case RoundAwaitingQuestion:
		return append(events, rotate(s, CloseTimedOut, cmd.Now)...), nil
	default:
		return nil, ErrStaleTimer
	}
}

// finish ends the match in favour of winnerID and reveals every secret.
func finish(s *State, winnerID, reason string, now time.Time) []Event {
	var events []Event
	if s.Round != nil && s.Round.State != RoundClosed {
		events = append(events, closeRound(s, CloseEnded, now))
	}
	events = append(events, revealAll(s, now)...)
	s.Status = StatusFinished
	s.WinnerID = winnerID
	s.EndReason = reason
	return append(events, Event{Type: EvtMatchFinished, ParticipantID: winnerID, Status: StatusFinished, Reason: reason, At: now})
}

func revealAll(s *State, now time.Time) []Event {
	var events []Event
	for _, p := range s.Participants {
		sec, ok := s.Secrets[p.ID]
		if !ok || sec.Visibility == VisibilityRevealed {
			continue
		}
		sec.Visibility = VisibilityRevealed
		s.Secrets[p.ID] = sec
		events = append(events, Event{Type: EvtSecretRevealed, ParticipantID: sec.SeekerID, TargetID: sec.HolderID, CharacterID: sec.CharacterID, At: now})
	}
	return events
}

func cancel(s *State, now time.Time, reason string) []Event {
	var events []Event
	if s.Round != nil && s.Round.State != RoundClosed {
		events = append(events, closeRound(s, CloseEnded, now))
	}
	s.Status = StatusCancelled
	s.EndReason = reason
	return append(events, Event{Type: EvtSessionCancelled, Status: StatusCancelled, Reason: reason, At: now})
}

func corrupt(s *State, now time.Time, why string) ([]Event, error) {
	return cancel(s, now, "corrupted: "+why), Errorf(KindSessionCorrupted, "session %s corrupted: %s", s.Code, why)
}
