package engine

import (
	"errors"
	"fmt"
)

// ErrorKind is the transport-independent category of a rejected transition.
type ErrorKind string

const (
	KindRoomNotFound        ErrorKind = "RoomNotFound"
	KindRoomFull            ErrorKind = "RoomFull"
	KindAlreadyExists       ErrorKind = "AlreadyExists"
	KindNotAParticipant     ErrorKind = "NotAParticipant"
	KindNotHost             ErrorKind = "NotHost"
	KindNotReady            ErrorKind = "NotReady"
	KindInsufficientPlayers ErrorKind = "InsufficientPlayers"
	KindNotInLobby          ErrorKind = "NotInLobby"
	KindNotYourTurn         ErrorKind = "NotYourTurn"
	KindNotAddressee        ErrorKind = "NotAddressee"
	KindAlreadyAssigned     ErrorKind = "AlreadyAssigned"
	KindExhaustedCodeSpace  ErrorKind = "ExhaustedCodeSpace"
	KindSessionCorrupted    ErrorKind = "SessionCorrupted"

	KindNotPlaying         ErrorKind = "NotPlaying"
	KindInvalidArgument    ErrorKind = "InvalidArgument"
	KindInvalidToken       ErrorKind = "InvalidToken"
	KindUnauthenticated    ErrorKind = "Unauthenticated"
	KindStaleTimer         ErrorKind = "StaleTimer"
	KindCatalogUnavailable ErrorKind = "CatalogUnavailable"
	KindUnsupported        ErrorKind = "UnsupportedCommand"
	KindInternal           ErrorKind = "Internal"
)

// Error carries a Kind so callers can match with errors.Is regardless of message.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrRoomNotFound        = &Error{Kind: KindRoomNotFound, Msg: "room not found"}
	ErrRoomFull            = &Error{Kind: KindRoomFull, Msg: "room is full"}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists, Msg: "room already exists"}
	ErrNotAParticipant     = &Error{Kind: KindNotAParticipant, Msg: "not a participant of this room"}
	ErrNotHost             = &Error{Kind: KindNotHost, Msg: "only the host can do that"}
	ErrNotReady            = &Error{Kind: KindNotReady, Msg: "not every participant is ready"}
	ErrInsufficientPlayers = &Error{Kind: KindInsufficientPlayers, Msg: "two participants are required"}
	ErrNotInLobby          = &Error{Kind: KindNotInLobby, Msg: "session is not in the lobby"}
	ErrNotYourTurn         = &Error{Kind: KindNotYourTurn, Msg: "not your turn"}
	ErrNotAddressee        = &Error{Kind: KindNotAddressee, Msg: "only the addressee can answer"}
	ErrAlreadyAssigned     = &Error{Kind: KindAlreadyAssigned, Msg: "secrets already assigned"}
	ErrExhaustedCodeSpace  = &Error{Kind: KindExhaustedCodeSpace, Msg: "no free room code"}
	ErrSessionCorrupted    = &Error{Kind: KindSessionCorrupted, Msg: "session corrupted"}

	ErrNotPlaying         = &Error{Kind: KindNotPlaying, Msg: "match is not in progress"}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Msg: "invalid or expired reconnection token"}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Msg: "unauthenticated"}
	ErrStaleTimer         = &Error{Kind: KindStaleTimer, Msg: "timer no longer applies"}
	ErrCatalogUnavailable = &Error{Kind: KindCatalogUnavailable, Msg: "character set unavailable"}
	ErrUnsupportedCommand = &Error{Kind: KindUnsupported, Msg: "unsupported command"}
)

// Errorf builds an Error of the given kind with a contextual message.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the ErrorKind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Fatal reports whether the kind ends the session or the allocation attempt rather than
// being a local rejection the client may retry.
func (k ErrorKind) Fatal() bool {
	return k == KindSessionCorrupted || k == KindExhaustedCodeSpace
}
