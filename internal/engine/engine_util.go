package engine

import (
	"maps"
	"slices"
	"time"
)

func NewState(code string, rules Rules, now time.Time) State {
	return State{
		Code:         code,
		Status:       StatusLobby,
		Participants: []Participant{},
		Secrets:      map[string]Secret{},
		Rules:        rules,
		CreatedAt:    now,
	}
}

// Clone deep-copies everything Apply mutates. Question, Answer, Guess and Character
// values are never modified after creation, so their pointers and maps are shared.
func (s State) Clone() State {
	c := s
	c.Participants = slices.Clone(s.Participants)
	c.History = slices.Clone(s.History)
	c.Board = slices.Clone(s.Board)
	c.Secrets = maps.Clone(s.Secrets)
	if c.Secrets == nil {
		c.Secrets = map[string]Secret{}
	}
	if s.Round != nil {
		r := *s.Round
		c.Round = &r
	}
	return c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Participant returns the seat with the given id.
func (s *State) Participant(id string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

func (s *State) participantByUser(userID string) (*Participant, bool) {
	if userID == "" {
		return nil, false
	}
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// Host returns the participant holding the host role, if any.
func (s *State) Host() (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].Role == RoleHost {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// Opponent returns the id of the other seat, or "" when the seat is alone.
func (s *State) Opponent(id string) string {
	for _, p := range s.Participants {
		if p.ID != id {
			return p.ID
		}
	}
	return ""
}

// Abandoned reports a lobby that nobody occupies any more.
func (s *State) Abandoned() bool {
	return s.Status == StatusLobby && len(s.Participants) == 0
}

func (s *State) onBoard(characterID string) bool {
	if len(s.Board) == 0 {
		return true
	}
	return slices.ContainsFunc(s.Board, func(c Character) bool { return c.ID == characterID })
}

// removeParticipant drops a seat and hands the host role to whoever remains.
func (s *State) removeParticipant(id string, now time.Time) []Event {
	idx := slices.IndexFunc(s.Participants, func(p Participant) bool { return p.ID == id })
	if idx < 0 {
		return nil
	}
	wasHost := s.Participants[idx].Role == RoleHost
	s.Participants = slices.Delete(s.Participants, idx, idx+1)

	var events []Event
	if wasHost && len(s.Participants) > 0 {
		s.Participants[0].Role = RoleHost
		events = append(events, Event{Type: EvtHostChanged, ParticipantID: s.Participants[0].ID, Role: RoleHost, At: now})
	}
	return events
}
