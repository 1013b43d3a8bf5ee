package engine

// hidesFrom reports whether the secret sought by seekerID must stay blank for recipient.
// An empty recipient (no seat) is denied every hidden secret.
func (s State) hidesFrom(seekerID, recipient string) bool {
	sec, ok := s.Secrets[seekerID]
	return ok && sec.Visibility == VisibilityHidden && (recipient == "" || recipient == seekerID)
}

// ViewFor returns the state as recipient may see it: their own secret stays blank until
// revealed. Only the character id field is withheld. Free text is passed through as typed,
// since rewriting it for one recipient would tell them what was rewritten.
func ViewFor(s State, recipient string) State {
	v := s.Clone()
	v.Board = nil
	for id, sec := range v.Secrets {
		if s.hidesFrom(id, recipient) {
			sec.CharacterID = ""
			v.Secrets[id] = sec
		}
	}
	return v
}

// RedactFor rewrites events for recipient against the committed state s. The only event
// that names a hidden secret is SecretAssigned; guesses of the held character are rejected
// before they can become events.
func RedactFor(s State, events []Event, recipient string) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.Type == EvtSecretAssigned && s.hidesFrom(e.ParticipantID, recipient) {
			e.CharacterID = ""
		}
		out[i] = e
	}
	return out
}
