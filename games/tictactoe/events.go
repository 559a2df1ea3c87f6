package tictactoe

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the wire frame for both directions: a tagged event with an
// optional payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Event tags. Client-originated: search, play, welcome, chat. Everything
// else is server-originated; welcome and chat are relayed under the same
// tags they arrived with.
const (
	evtSearch     = "search"
	evtPlay       = "play"
	evtWelcome    = "welcome"
	evtChat       = "chat"
	evtGameFound  = "game_found"
	evtYourTurn   = "your_turn"
	evtRoundStart = "round_start"
	evtRoundEnd   = "round_end"
	evtAutoPlay   = "auto_play"
	evtGameOver   = "game_over"
	evtError      = "error"
)

// ErrorCode is the client-visible protocol error vocabulary. The spelling
// already_wellcomed is what deployed clients expect; do not fix it.
type ErrorCode string

const (
	ErrInvalidBody          ErrorCode = "invalid_body"
	ErrUnknownEvent         ErrorCode = "unknown_event"
	ErrInvalidEventData     ErrorCode = "invalid_event_data_for_event"
	ErrAlreadyInSearch      ErrorCode = "already_in_search"
	ErrAlreadyWelcomed      ErrorCode = "already_wellcomed"
	ErrChatNotAllowed       ErrorCode = "chat_not_allowed"
	ErrChatNotStarted       ErrorCode = "chat_not_started"
	ErrInvalidPublicKey     ErrorCode = "invalid_public_key"
	ErrInvalidChatMessage   ErrorCode = "invalid_chat_message"
	ErrInvalidChatSignature ErrorCode = "invalid_chat_signature"
	ErrAlreadyInGame        ErrorCode = "already_in_game"
	ErrNotInGame            ErrorCode = "not_in_game"
	ErrNotYourTurn          ErrorCode = "not_your_turn"
	ErrInvalidPlace         ErrorCode = "invalid_place"
	ErrMaxGamesReached      ErrorCode = "max_games_reached"
	ErrOther                ErrorCode = "other"
)

// GameOverReason is the wire-exact reason carried by game_over.
// ReasonServerShutdown and ReasonInternalError only ever reach the
// history sink.
type GameOverReason string

const (
	ReasonPlayerWon          GameOverReason = "player_won"
	ReasonDraw               GameOverReason = "draw"
	ReasonPlayerDisconnected GameOverReason = "player_disconnected"
	ReasonServerShutdown     GameOverReason = "server_shutdown"
	ReasonInternalError      GameOverReason = "other"
)

type ClientKind uint8

const (
	KindSearch ClientKind = iota + 1
	KindPlay
	KindWelcome
	KindChat
)

// ClientEvent is a decoded inbound frame. Only the fields matching Kind
// are populated.
type ClientEvent struct {
	Kind             ClientKind
	Place            int
	PublicKey        string
	EncryptedMessage string
	Signature        string
}

// DecodeClientEvent parses a raw frame into a ClientEvent. A non-empty
// ErrorCode means the frame must be answered with error{code} and
// otherwise ignored: invalid_body for frames that aren't the envelope
// shape at all, unknown_event for unrecognized tags, and
// invalid_event_data_for_event for payloads of the wrong shape
// (including a play place outside 0..8).
func DecodeClientEvent(raw []byte) (ClientEvent, ErrorCode) {
	var frame struct {
		Event *string         `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == nil {
		return ClientEvent{}, ErrInvalidBody
	}

	switch *frame.Event {
	case evtSearch:
		return ClientEvent{Kind: KindSearch}, ""

	case evtPlay:
		var data struct {
			Place *int `json:"place"`
		}
		if len(frame.Data) == 0 || json.Unmarshal(frame.Data, &data) != nil || data.Place == nil {
			return ClientEvent{}, ErrInvalidEventData
		}
		if *data.Place < 0 || *data.Place > 8 {
			return ClientEvent{}, ErrInvalidEventData
		}
		return ClientEvent{Kind: KindPlay, Place: *data.Place}, ""

	case evtWelcome:
		var data struct {
			PublicKey *string `json:"public_key"`
		}
		if len(frame.Data) == 0 || json.Unmarshal(frame.Data, &data) != nil || data.PublicKey == nil {
			return ClientEvent{}, ErrInvalidEventData
		}
		return ClientEvent{Kind: KindWelcome, PublicKey: *data.PublicKey}, ""

	case evtChat:
		var data struct {
			EncryptedMessage *string `json:"encrypted_message"`
			Signature        *string `json:"signature"`
		}
		if len(frame.Data) == 0 || json.Unmarshal(frame.Data, &data) != nil ||
			data.EncryptedMessage == nil || data.Signature == nil {
			return ClientEvent{}, ErrInvalidEventData
		}
		return ClientEvent{Kind: KindChat, EncryptedMessage: *data.EncryptedMessage, Signature: *data.Signature}, ""

	default:
		return ClientEvent{}, ErrUnknownEvent
	}
}

// maxOpaqueLen caps each opaque chat field (keys, ciphertexts,
// signatures). The websocket read limit sits above this so oversized
// material fails shape checks instead of tearing the connection down.
const maxOpaqueLen = 16 << 10

// opaqueShapeOK is the only inspection chat material ever gets: non-empty,
// bounded, and printable ASCII (base64 or armor shaped). Contents are
// end-to-end encrypted; the server relays them verbatim.
func opaqueShapeOK(s string) bool {
	if s == "" || len(s) > maxOpaqueLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\r' || c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// Server event payloads.

type GameFoundData struct {
	XPlayer uuid.UUID `json:"x_player"`
	OPlayer uuid.UUID `json:"o_player"`
}

type WelcomeData struct {
	PublicKey string `json:"public_key"`
}

type ChatData struct {
	EncryptedMessage string `json:"encrypted_message"`
	Signature        string `json:"signature"`
}

type YourTurnData struct {
	AutoPlayAfter int64 `json:"auto_play_after"`
}

type RoundStartData struct {
	Round int `json:"round"`
}

type RoundEndData struct {
	Round  int        `json:"round"`
	Winner *uuid.UUID `json:"winner"`
}

type PlayData struct {
	Place  int       `json:"place"`
	Player uuid.UUID `json:"player"`
}

type AutoPlayData struct {
	Place int `json:"place"`
}

type GameOverData struct {
	UUID   uuid.UUID      `json:"uuid"`
	Winner *uuid.UUID     `json:"winner"`
	Reason GameOverReason `json:"reason"`
}

func gameFoundEvent(x, o uuid.UUID) Envelope {
	return Envelope{Event: evtGameFound, Data: GameFoundData{XPlayer: x, OPlayer: o}}
}

func welcomeEvent(publicKey string) Envelope {
	return Envelope{Event: evtWelcome, Data: WelcomeData{PublicKey: publicKey}}
}

func chatEvent(encrypted, signature string) Envelope {
	return Envelope{Event: evtChat, Data: ChatData{EncryptedMessage: encrypted, Signature: signature}}
}

func yourTurnEvent(autoPlayAfter int64) Envelope {
	return Envelope{Event: evtYourTurn, Data: YourTurnData{AutoPlayAfter: autoPlayAfter}}
}

func roundStartEvent(round int) Envelope {
	return Envelope{Event: evtRoundStart, Data: RoundStartData{Round: round}}
}

func roundEndEvent(round int, winner *uuid.UUID) Envelope {
	return Envelope{Event: evtRoundEnd, Data: RoundEndData{Round: round, Winner: winner}}
}

func playEvent(place int, player uuid.UUID) Envelope {
	return Envelope{Event: evtPlay, Data: PlayData{Place: place, Player: player}}
}

func autoPlayEvent(place int) Envelope {
	return Envelope{Event: evtAutoPlay, Data: AutoPlayData{Place: place}}
}

func gameOverEvent(id uuid.UUID, winner *uuid.UUID, reason GameOverReason) Envelope {
	return Envelope{Event: evtGameOver, Data: GameOverData{UUID: id, Winner: winner, Reason: reason}}
}

func errorEvent(code ErrorCode) Envelope {
	return Envelope{Event: evtError, Data: code}
}
