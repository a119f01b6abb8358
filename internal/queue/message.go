package queue

import (
	"encoding/json"
	"time"
)

const (
	ChannelInstant  = "instant"
	ChannelBuffered = "buffered"
)

// Message types published on the per-game feed. Instant types become visible
// the moment they are enqueued; buffered types queue up behind a per-game
// drain loop that holds each one on screen for its reveal window.
const (
	TypePlayerJoined           = "player_joined"
	TypePlayerLeft             = "player_left"
	TypeCountdownStarted       = "countdown_started"
	TypeGameStarted            = "game_started"
	TypeAlignerPromptSubmitted = "aligner_prompt_submitted"
	TypeChat                   = "chat"

	TypeTurnStarted         = "turn_started"
	TypeBotResponse         = "bot_response"
	TypeAlignerDeliberation = "aligner_deliberation"
	TypeRoundWinner         = "round_winner"
	TypeStandings           = "standings"
	TypeGameOver            = "game_over"
)

// bufferDurations maps each buffered type to its reveal window. A type
// missing here publishes instantly.
var bufferDurations = map[string]time.Duration{
	TypeTurnStarted:         5 * time.Second,
	TypeBotResponse:         5 * time.Second,
	TypeAlignerDeliberation: 2 * time.Second,
	TypeRoundWinner:         7 * time.Second,
	TypeStandings:           5 * time.Second,
	TypeGameOver:            10 * time.Second,
}

// BufferDuration returns the reveal window for a message type and whether the
// type is buffered at all.
func BufferDuration(msgType string) (time.Duration, bool) {
	d, ok := bufferDurations[msgType]
	return d, ok
}

// StateChange is the internal action a message carries. It is processed when
// the message publishes, never exposed to clients.
type StateChange struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Metadata is the persisted shape of GameMessage.Metadata.
type Metadata struct {
	StateChange *StateChange `json:"state_change,omitempty"`
}

// Input describes a message to enqueue. A positive BufferDuration overrides
// the type's default reveal window and forces the buffered channel.
type Input struct {
	GameID         string
	Type           string
	Sender         string
	Content        string
	BufferDuration time.Duration
	StateChange    *StateChange
}
