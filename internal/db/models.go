package db

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GameStatusLobby        = "LOBBY"
	GameStatusAlignerSetup = "ALIGNER_SETUP"
	GameStatusStarted      = "STARTED"
	GameStatusEnded        = "ENDED"
)

const (
	TurnStatusOpen      = "OPEN"
	TurnStatusProcessed = "PROCESSED"
)

type Game struct {
	ID                 string     `gorm:"size:36;primaryKey"`
	CreatorID          string     `gorm:"size:36;not null"`
	CreatorPlayerID    *string    `gorm:"size:36"`
	Status             string     `gorm:"size:16;not null"`
	PointsToWin        int        `gorm:"not null;default:2"`
	MaxAutoPlayers     int        `gorm:"not null;default:3"`
	BotPromptChanges   int        `gorm:"not null;default:1"`
	TurnID             int        `gorm:"not null;default:1"`
	TurnStarted        bool       `gorm:"not null;default:false"`
	TurnPrompt         *string    `gorm:"size:280"`
	AlignerPromptFull  string     `gorm:"not null;default:''"`
	CountdownStartedAt *time.Time
	NextGameID         *string   `gorm:"size:36"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
	Players            []Player
	Turns              []Turn
	Messages           []GameMessage
}

type Player struct {
	ID                 string `gorm:"size:36;primaryKey"`
	GameID             string `gorm:"size:36;index;not null"`
	BotName            string `gorm:"size:64;not null"`
	BotPrompt          string `gorm:"size:281;not null"`
	SubmittedBotPrompt string `gorm:"size:281;not null"`
	PromptsRemaining   int    `gorm:"not null"`
	Score              int    `gorm:"not null;default:0"`
	IsAuto             bool   `gorm:"not null;default:false"`
	TurnComplete       bool   `gorm:"not null;default:false"`
	LeftAt             *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// AlignerPrompt holds one player's contribution to the game's combined
// judging instruction.
type AlignerPrompt struct {
	GameID   string `gorm:"size:36;primaryKey"`
	PlayerID string `gorm:"size:36;primaryKey"`
	Prompt   string `gorm:"size:280;not null"`
}

type Turn struct {
	GameID         string  `gorm:"size:36;primaryKey"`
	TurnID         int     `gorm:"primaryKey;autoIncrement:false"`
	Prompt         string  `gorm:"size:280;not null"`
	Status         string  `gorm:"size:16;not null;default:OPEN"`
	WinnerPlayerID *string `gorm:"size:36"`
	ProcessedAt    *time.Time
}

type TurnResponse struct {
	GameID       string `gorm:"size:36;primaryKey"`
	TurnID       int    `gorm:"primaryKey;autoIncrement:false"`
	PlayerID     string `gorm:"size:36;primaryKey"`
	ResponseText string `gorm:"size:560;not null"`
}

// GameMessage is the append-only event feed. Rows become visible to clients
// only once PublishedAt is set; Metadata carries the internal state-change
// action and is never exposed.
type GameMessage struct {
	ID               uint           `gorm:"primaryKey"`
	GameID           string         `gorm:"size:36;index;not null"`
	Channel          string         `gorm:"size:16;not null;default:instant"`
	Type             string         `gorm:"size:32;not null"`
	SenderName       *string        `gorm:"size:64"`
	Content          string         `gorm:"not null"`
	Metadata         datatypes.JSON `gorm:"type:jsonb"`
	BufferDurationMS *int64
	PublishedAt      *time.Time `gorm:"index"`
	WindowEndsAt     *time.Time
	CreatedAt        time.Time `gorm:"not null"`
}
