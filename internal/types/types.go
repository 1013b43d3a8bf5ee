package types

import "github.com/DoyleJ11/guess-who-backend/internal/engine"

type ClientMessage struct {
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	Name        string `json:"name,omitempty"`
	Token       string `json:"token,omitempty"`
	Ready       bool   `json:"ready,omitempty"`
	Text        string `json:"text,omitempty"`
	Category    string `json:"category,omitempty"`
	Answer      string `json:"answer,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
}

type ServerMessage struct {
	Type          string         `json:"type"` // "Joined" | "Snapshot" | "Events" | "Error"
	Version       int            `json:"version,omitempty"`
	State         *engine.State  `json:"state,omitempty"`
	Events        []engine.Event `json:"events,omitempty"`
	Room          string         `json:"room,omitempty"`
	ParticipantID string         `json:"participantId,omitempty"`
	Token         string         `json:"token,omitempty"`
	Code          string         `json:"code,omitempty"`
	Error         string         `json:"error,omitempty"`
}
