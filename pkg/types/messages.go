// Package types names the messages exchanged over the match websocket.
//
// Client -> Server (one JSON object per frame, "type" selects the rest):
//
//	Join         code, name, token?   take a seat; a token re-attaches an existing one
//	Reconnect    token                re-attach after a dropped connection
//	SetReady     ready
//	Leave
//	Start                             host only
//	AskQuestion  text, category       category: trait | direct | meta
//	SubmitAnswer answer, text?        answer: yes | no | unsure
//	MakeGuess    characterId
//
// Server -> Client:
//
//	Joined    room, participantId, token   the token is a bearer secret; keep it private
//	Snapshot  version, state               full state as this client may see it
//	Events    version, events              incremental, one message per commit
//	Error     code, error                  only ever sent to the requester
//
// Versions increase by one per commit. A client that sees a gap should reconnect to get
// a fresh Snapshot.
package types

const (
	MsgJoin         = "Join"
	MsgReconnect    = "Reconnect"
	MsgSetReady     = "SetReady"
	MsgLeave        = "Leave"
	MsgStart        = "Start"
	MsgAskQuestion  = "AskQuestion"
	MsgSubmitAnswer = "SubmitAnswer"
	MsgMakeGuess    = "MakeGuess"
)

const (
	MsgJoined   = "Joined"
	MsgSnapshot = "Snapshot"
	MsgEvents   = "Events"
	MsgError    = "Error"
)
