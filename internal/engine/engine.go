package engine

import "time"

// MaxParticipants is fixed: the game is strictly head to head.
const MaxParticipants = 2

type Status string

const (
	StatusLobby     Status = "lobby"
	StatusPlaying   Status = "playing"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool { return s == StatusFinished || s == StatusCancelled }

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

type Presence string

const (
	PresenceConnected    Presence = "connected"
	PresenceDisconnected Presence = "disconnected"
)

type Visibility string

const (
	VisibilityHidden   Visibility = "hidden"
	VisibilityRevealed Visibility = "revealed"
)

type RoundState string

const (
	RoundAwaitingQuestion        RoundState = "awaiting_question"
	RoundAwaitingAnswer          RoundState = "awaiting_answer"
	RoundAwaitingGuessResolution RoundState = "awaiting_guess_resolution"
	RoundClosed                  RoundState = "closed"
)

type Category string

const (
	CategoryTrait  Category = "trait"
	CategoryDirect Category = "direct"
	CategoryMeta   Category = "meta"
)

type AnswerValue string

const (
	AnswerYes    AnswerValue = "yes"
	AnswerNo     AnswerValue = "no"
	AnswerUnsure AnswerValue = "unsure"
)

type CloseReason string

const (
	CloseAnswered CloseReason = "answered"
	CloseGuessed  CloseReason = "guessed"
	CloseTimedOut CloseReason = "timed_out"
	CloseEnded    CloseReason = "ended"
)

// Participant is one seat in a session. Handle is the gateway's lookup key for the
// connection currently bound to this seat; it is never an owning reference.
type Participant struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	Role           Role      `json:"role"`
	Ready          bool      `json:"ready"`
	Presence       Presence  `json:"presence"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`
	TokenHash      string    `json:"-"`
	Handle         string    `json:"-"`
}

// Secret is the character a participant (the seeker) must identify. It is held, and
// answered for, by the opponent.
type Secret struct {
	SeekerID    string     `json:"seekerId"`
	HolderID    string     `json:"holderId"`
	CharacterID string     `json:"characterId,omitempty"`
	Visibility  Visibility `json:"visibility"`
}

type Question struct {
	Text        string    `json:"text"`
	Category    Category  `json:"category"`
	AskerID     string    `json:"askerId"`
	AddresseeID string    `json:"addresseeId"`
	AskedAt     time.Time `json:"askedAt"`
}

type Answer struct {
	Value       AnswerValue   `json:"value"`
	Text        string        `json:"text,omitempty"`
	ResponderID string        `json:"responderId"`
	Latency     time.Duration `json:"latency"`
	Synthetic   bool          `json:"synthetic,omitempty"`
}

type Guess struct {
	GuesserID   string `json:"guesserId"`
	TargetID    string `json:"targetId"`
	CharacterID string `json:"characterId"`
	Correct     bool   `json:"correct"`
}

type Round struct {
	Number    int         `json:"number"`
	ActiveID  string      `json:"activeId"`
	State     RoundState  `json:"state"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt,omitzero"`
	Deadline  time.Time   `json:"deadline,omitzero"`
	Question  *Question   `json:"question,omitempty"`
	Answer    *Answer     `json:"answer,omitempty"`
	Guess     *Guess      `json:"guess,omitempty"`
	Reason    CloseReason `json:"reason,omitempty"`
}

type Character struct {
	ID     string            `json:"id"`
	Traits map[string]string `json:"traits,omitempty"`
}

type Rules struct {
	TurnTimerSec   int    `json:"turnTimerSec,omitempty"`
	CharacterSetID string `json:"characterSetId"`
}

// State is one match session. The Board is the catalog snapshot taken at start; it is
// kept server side because it lists every candidate, the hidden ones included.
type State struct {
	Code         string            `json:"code"`
	Status       Status            `json:"status"`
	Participants []Participant     `json:"participants"`
	Round        *Round            `json:"round,omitempty"`
	History      []Round           `json:"history,omitempty"`
	Secrets      map[string]Secret `json:"secrets,omitempty"`
	Board        []Character       `json:"-"`
	Rules        Rules             `json:"rules"`
	WinnerID     string            `json:"winnerId,omitempty"`
	EndReason    string            `json:"endReason,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdSetReady     CommandType = "SetReady"
	CmdLeave        CommandType = "Leave"
	CmdStart        CommandType = "Start"
	CmdDisconnect   CommandType = "Disconnect"
	CmdReconnect    CommandType = "Reconnect"
	CmdGraceExpired CommandType = "GraceExpired"
	CmdAskQuestion  CommandType = "AskQuestion"
	CmdSubmitAnswer CommandType = "SubmitAnswer"
	CmdMakeGuess    CommandType = "MakeGuess"
	CmdTurnTimeout  CommandType = "TurnTimeout"
	CmdExpireLobby  CommandType = "ExpireLobby"
)

/*
	CmdJoin         -> ParticipantJoined [| ParticipantLeft(replaced)] | ParticipantReconnected (same user)
	CmdStart        -> MatchStarted -> SecretAssigned x2 -> RoundOpened
	CmdAskQuestion  -> QuestionAsked
	CmdSubmitAnswer -> AnswerSubmitted -> RoundClosed -> RoundOpened
	CmdMakeGuess    -> GuessMade -> GuessResolved -> RoundClosed -> RoundOpened
	                   or ... -> SecretRevealed x2 -> MatchFinished
	CmdTurnTimeout  -> TurnTimedOut -> [AnswerSubmitted(synthetic)] -> RoundClosed -> RoundOpened
	CmdGraceExpired -> ParticipantLeft (lobby) | MatchFinished(forfeit) | SessionCancelled
	CmdExpireLobby  -> SessionCancelled (lobby nobody joined; Since must equal CreatedAt)
*/

// Command is the single input shape for Apply. Now comes from the caller's clock so
// Apply stays deterministic.
type Command struct {
	Type          CommandType
	ParticipantID string
	UserID        string
	DisplayName   string
	Handle        string
	TokenHash     string
	PresentedHash string
	Ready         bool
	Text          string
	Category      Category
	Answer        AnswerValue
	CharacterID   string
	Round         int
	Expect        RoundState
	Since         time.Time
	Grace         time.Duration
	Secrets       map[string]Secret
	Board         []Character
	Now           time.Time
}

type EventType string

const (
	EvtParticipantJoined       EventType = "ParticipantJoined"
	EvtParticipantLeft         EventType = "ParticipantLeft"
	EvtParticipantDisconnected EventType = "ParticipantDisconnected"
	EvtParticipantReconnected  EventType = "ParticipantReconnected"
	EvtHostChanged             EventType = "HostChanged"
	EvtReadyChanged            EventType = "ReadyChanged"
	EvtMatchStarted            EventType = "MatchStarted"
	EvtSecretAssigned          EventType = "SecretAssigned"
	EvtRoundOpened             EventType = "RoundOpened"
	EvtQuestionAsked           EventType = "QuestionAsked"
	EvtAnswerSubmitted         EventType = "AnswerSubmitted"
	EvtGuessMade               EventType = "GuessMade"
	EvtGuessResolved           EventType = "GuessResolved"
	EvtSecretRevealed          EventType = "SecretRevealed"
	EvtRoundClosed             EventType = "RoundClosed"
	EvtTurnTimedOut            EventType = "TurnTimedOut"
	EvtMatchFinished           EventType = "MatchFinished"
	EvtSessionCancelled        EventType = "SessionCancelled"
)

type Event struct {
	Type          EventType   `json:"type"`
	Round         int         `json:"round,omitempty"`
	ParticipantID string      `json:"participantId,omitempty"`
	TargetID      string      `json:"targetId,omitempty"`
	CharacterID   string      `json:"characterId,omitempty"`
	Text          string      `json:"text,omitempty"`
	Category      Category    `json:"category,omitempty"`
	Answer        AnswerValue `json:"answer,omitempty"`
	Role          Role        `json:"role,omitempty"`
	Ready         bool        `json:"ready"`
	Correct       bool        `json:"correct"`
	Status        Status      `json:"status,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	At            time.Time   `json:"at"`
}

// Apply validates cmd against s and returns the resulting events and state. A rejected
// command returns s untouched. The one exception is ErrSessionCorrupted, which comes back
// together with the Cancelled state and its terminal event so the caller can commit it.
func Apply(s State, cmd Command) ([]Event, State, error) {
	next := s.Clone()

	var (
		events []Event
		err    error
	)

	switch cmd.Type {
	case CmdJoin:
		events, err = join(&next, cmd)
	case CmdSetReady:
		events, err = setReady(&next, cmd)
	case CmdLeave:
		events, err = leave(&next, cmd)
	case CmdStart:
		events, err = start(&next, cmd)
	case CmdDisconnect:
		events, err = disconnect(&next, cmd)
	case CmdReconnect:
		events, err = reconnect(&next, cmd)
	case CmdGraceExpired:
		events, err = graceExpired(&next, cmd)
	case CmdAskQuestion:
		events, err = askQuestion(&next, cmd)
	case CmdSubmitAnswer:
		events, err = submitAnswer(&next, cmd)
	case CmdMakeGuess:
		events, err = makeGuess(&next, cmd)
	case CmdTurnTimeout:
		events, err = turnTimeout(&next, cmd)
	case CmdExpireLobby:
		events, err = expireLobby(&next, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}

	if err != nil {
		if KindOf(err) == KindSessionCorrupted {
			return events, next, err
		}
		return nil, s, err
	}
	return events, next, nil
}
