package engine

import (
	"crypto/subtle"
	"slices"
	"strings"
	"time"
)

func join(s *State, cmd Command) ([]Event, error) {
	if cmd.ParticipantID == "" || cmd.TokenHash == "" {
		return nil, Errorf(KindInvalidArgument, "join requires a participant id and token")
	}

	// Same identity coming back is a re-attach, never a second seat.
	if p, ok := s.participantByUser(cmd.UserID); ok {
		attach(p, cmd)
		return []Event{{Type: EvtParticipantReconnected, ParticipantID: p.ID, At: cmd.Now}}, nil
	}

	if strings.TrimSpace(cmd.DisplayName) == "" {
		return nil, Errorf(KindInvalidArgument, "display name is required")
	}

	var events []Event
	if len(s.Participants) >= MaxParticipants {
		if s.Status != StatusLobby {
			return nil, ErrRoomFull
		}
		idx := slices.IndexFunc(s.Participants, func(p Participant) bool {
			return p.Presence == PresenceDisconnected
		})
		if idx < 0 {
			return nil, ErrRoomFull
		}
		stale := s.Participants[idx].ID
		events = append(events, Event{Type: EvtParticipantLeft, ParticipantID: stale, Reason: "replaced", At: cmd.Now})
		events = append(events, s.removeParticipant(stale, cmd.Now)...)
	}
	if s.Status != StatusLobby {
		return nil, ErrNotInLobby
	}

	role := RolePlayer
	if _, ok := s.Host(); !ok {
		role = RoleHost
	}
	s.Participants = append(s.Participants, Participant{
		ID:          cmd.ParticipantID,
		UserID:      cmd.UserID,
		DisplayName: cmd.DisplayName,
		Role:        role,
		Presence:    PresenceConnected,
		TokenHash:   cmd.TokenHash,
		Handle:      cmd.Handle,
	})
	events = append(events, Event{
		Type:          EvtParticipantJoined,
		ParticipantID: cmd.ParticipantID,
		Role:          role,
		Text:          cmd.DisplayName,
		At:            cmd.Now,
	})
	return events, nil
}

func attach(p *Participant, cmd Command) {
	p.Presence = PresenceConnected
	p.DisconnectedAt = time.Time{}
	p.TokenHash = cmd.TokenHash
	p.Handle = cmd.Handle
}

func setReady(s *State, cmd Command) ([]Event, error) {
	if s.Status != StatusLobby {
		return nil, ErrNotInLobby
	}
	p, ok := s.Participant(cmd.ParticipantID)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if p.Ready == cmd.Ready {
		return nil, nil
	}
	p.Ready = cmd.Ready
	return []Event{{Type: EvtReadyChanged, ParticipantID: p.ID, Ready: p.Ready, At: cmd.Now}}, nil
}

func leave(s *State, cmd Command) ([]Event, error) {
	p, ok := s.Participant(cmd.ParticipantID)
	if !ok {
		return nil, ErrNotAParticipant
	}

	if s.Status == StatusLobby {
		events := []Event{{Type: EvtParticipantLeft, ParticipantID: p.ID, Reason: "left", At: cmd.Now}}
		return append(events, s.removeParticipant(p.ID, cmd.Now)...), nil
	}

	if p.Presence == PresenceDisconnected {
		return nil, nil
	}
	markDisconnected(p, cmd)
	return []Event{{Type: EvtParticipantDisconnected, ParticipantID: p.ID, Reason: "left", At: cmd.Now}}, nil
}

func disconnect(s *State, cmd Command) ([]Event, error) {
	p, ok := s.Participant(cmd.ParticipantID)
	if !ok {
		return nil, ErrNotAParticipant
	}
	// A connection that was already superseded by a reconnect has nothing to say.
	if p.Presence == PresenceDisconnected || (cmd.Handle != "" && p.Handle != cmd.Handle) {
		return nil, nil
	}
	markDisconnected(p, cmd)
	return []Event{{Type: EvtParticipantDisconnected, ParticipantID: p.ID, Reason: "connection_lost", At: cmd.Now}}, nil
}

func markDisconnected(p *Participant, cmd Command) {
	p.Presence = PresenceDisconnected
	p.DisconnectedAt = cmd.Now
	p.Handle = ""
}

func reconnect(s *State, cmd Command) ([]Event, error) {
	if cmd.PresentedHash == "" || cmd.TokenHash == "" {
		return nil, ErrInvalidToken
	}
	idx := slices.IndexFunc(s.Participants, func(p Participant) bool {
		return subtle.ConstantTimeCompare([]byte(p.TokenHash), []byte(cmd.PresentedHash)) == 1
	})
	if idx < 0 {
		return nil, ErrInvalidToken
	}
	p := &s.Participants[idx]
	if p.Presence == PresenceDisconnected && cmd.Grace > 0 && cmd.Now.Sub(p.DisconnectedAt) > cmd.Grace {
		return nil, ErrInvalidToken
	}
	attach(p, cmd)
	return []Event{{Type: EvtParticipantReconnected, ParticipantID: p.ID, At: cmd.Now}}, nil
}

func graceExpired(s *State, cmd Command) ([]Event, error) {
	p, ok := s.Participant(cmd.ParticipantID)
	if !ok || p.Presence != PresenceDisconnected || !p.DisconnectedAt.Equal(cmd.Since) || s.Status.Terminal() {
		return nil, ErrStaleTimer
	}

	if s.Status == StatusLobby {
		events := []Event{{Type: EvtParticipantLeft, ParticipantID: p.ID, Reason: "timeout", At: cmd.Now}}
		return append(events, s.removeParticipant(p.ID, cmd.Now)...), nil
	}

	opponent, _ := s.Participant(s.Opponent(p.ID))
	if opponent == nil || opponent.Presence != PresenceConnected {
		return cancel(s, cmd.Now, "abandoned"), nil
	}
	return finish(s, opponent.ID, "forfeit", cmd.Now), nil
}

func expireLobby(s *State, cmd Command) ([]Event, error) {
	if s.Status != StatusLobby || len(s.Participants) > 0 || !s.CreatedAt.Equal(cmd.Since) {
		return nil, ErrStaleTimer
	}
	return cancel(s, cmd.Now, "abandoned"), nil
}

// CanStart checks every start precondition that does not depend on the catalog.
func CanStart(s State, requestedBy string) error {
	if s.Status != StatusLobby {
		if len(s.Secrets) > 0 {
			return ErrAlreadyAssigned
		}
		return ErrNotInLobby
	}
	p, ok := s.Participant(requestedBy)
	if !ok {
		return ErrNotAParticipant
	}
	if p.Role != RoleHost {
		return ErrNotHost
	}
	if len(s.Participants) != MaxParticipants {
		return ErrInsufficientPlayers
	}
	for _, q := range s.Participants {
		if !q.Ready {
			return ErrNotReady
		}
	}
	return nil
}

func start(s *State, cmd Command) ([]Event, error) {
	if err := CanStart(*s, cmd.ParticipantID); err != nil {
		return nil, err
	}
	if err := validateSecrets(s, cmd.Secrets, cmd.Board); err != nil {
		return nil, err
	}

	s.Status = StatusPlaying
	s.Board = slices.Clone(cmd.Board)
	s.Secrets = make(map[string]Secret, len(cmd.Secrets))
	events := []Event{{Type: EvtMatchStarted, Status: StatusPlaying, At: cmd.Now}}
	for _, p := range s.Participants {
		sec := cmd.Secrets[p.ID]
		sec.Visibility = VisibilityHidden
		s.Secrets[p.ID] = sec
		events = append(events, Event{
			Type:          EvtSecretAssigned,
			ParticipantID: sec.SeekerID,
			TargetID:      sec.HolderID,
			CharacterID:   sec.CharacterID,
			At:            cmd.Now,
		})
	}

	host, _ := s.Host()
	return append(events, openRound(s, host.ID, cmd.Now)), nil
}

func validateSecrets(s *State, secrets map[string]Secret, board []Character) error {
	if len(secrets) != len(s.Participants) {
		return Errorf(KindInvalidArgument, "expected %d secrets, got %d", len(s.Participants), len(secrets))
	}
	seen := make(map[string]bool, len(secrets))
	for _, p := range s.Participants {
		sec, ok := secrets[p.ID]
		if !ok || sec.SeekerID != p.ID || sec.HolderID != s.Opponent(p.ID) || sec.CharacterID == "" {
			return Errorf(KindInvalidArgument, "malformed secret for participant %s", p.ID)
		}
		if seen[sec.CharacterID] {
			return Errorf(KindInvalidArgument, "character %s assigned twice", sec.CharacterID)
		}
		if len(board) > 0 && !slices.ContainsFunc(board, func(c Character) bool { return c.ID == sec.CharacterID }) {
			return Errorf(KindInvalidArgument, "character %s is not on the board", sec.CharacterID)
		}
		seen[sec.CharacterID] = true
	}
	return nil
}
