// Package game holds the orchestrator and the state-change processor for the
// party game: lobby membership, the turn cycle, and judging.
package game

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erhathaway/bots-against-alignment/internal/config"
	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/llm"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
)

const maxBotPromptLength = 281

// Service orchestrates game lifecycle and membership. Synchronous writes are
// limited to submission recording and membership edges; everything else flows
// through published messages and their state changes.
type Service struct {
	store *db.Store
	queue *queue.MessageQueue
	llm   llm.Client
	cfg   config.Config
}

func NewService(store *db.Store, q *queue.MessageQueue, client llm.Client, cfg config.Config) *Service {
	s := &Service{store: store, queue: q, llm: client, cfg: cfg}
	q.SetProcessor(s.Process)
	return s
}

type CreatedGame struct {
	GameID    string `json:"gameId"`
	CreatorID string `json:"creatorId"`
}

func (s *Service) CreateGame(ctx context.Context) (*CreatedGame, error) {
	game := &db.Game{
		ID:               uuid.NewString(),
		CreatorID:        uuid.NewString(),
		Status:           db.GameStatusLobby,
		PointsToWin:      s.cfg.PointsToWin,
		MaxAutoPlayers:   3,
		BotPromptChanges: s.cfg.BotPromptChanges,
		TurnID:           1,
	}
	if err := s.store.CreateGame(ctx, game); err != nil {
		return nil, err
	}
	return &CreatedGame{GameID: game.ID, CreatorID: game.CreatorID}, nil
}

func (s *Service) requireGame(ctx context.Context, gameID string) (*db.Game, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, NotFoundf("game not found: %s", gameID)
		}
		return nil, err
	}
	return game, nil
}

func (s *Service) requireActivePlayer(ctx context.Context, gameID, playerID string) (*db.Player, error) {
	player, err := s.store.GetPlayer(ctx, gameID, playerID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, NotFoundf("player not found: %s", playerID)
		}
		return nil, err
	}
	if player.LeftAt != nil {
		return nil, Validationf("player has left the game")
	}
	return player, nil
}

type Settings struct {
	PointsToWin      int `json:"pointsToWin"`
	BotPromptChanges int `json:"botPromptChanges"`
}

// UpdateSettings changes lobby-tunable settings. Host only, lobby only.
func (s *Service) UpdateSettings(ctx context.Context, gameID, creatorID string, pointsToWin, botPromptChanges *int) (*Settings, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.CreatorID != creatorID {
		return nil, Forbiddenf("forbidden")
	}
	if game.Status != db.GameStatusLobby {
		return nil, Conflictf("cannot change settings after game has started")
	}

	updates := map[string]any{}
	result := Settings{PointsToWin: game.PointsToWin, BotPromptChanges: game.BotPromptChanges}
	if pointsToWin != nil {
		if *pointsToWin < 1 || *pointsToWin > 20 {
			return nil, Validationf("pointsToWin must be between 1 and 20")
		}
		updates["points_to_win"] = *pointsToWin
		result.PointsToWin = *pointsToWin
	}
	if botPromptChanges != nil {
		if *botPromptChanges < 0 || *botPromptChanges > 10 {
			return nil, Validationf("botPromptChanges must be between 0 and 10")
		}
		updates["bot_prompt_changes"] = *botPromptChanges
		result.BotPromptChanges = *botPromptChanges
	}
	if len(updates) > 0 {
		if err := s.store.UpdateGameSettings(ctx, gameID, updates); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

type JoinInput struct {
	GameID        string
	BotName       string
	BotPrompt     string
	AlignerPrompt string
	CreatorID     string
}

// JoinGame adds a human player. The creator credential claims the host seat,
// and the creator's join seeds the default auto players in the background.
func (s *Service) JoinGame(ctx context.Context, in JoinInput) (string, error) {
	game, err := s.requireGame(ctx, in.GameID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.BotName) == "" {
		return "", Validationf("bot name is required")
	}
	count, err := s.store.CountActivePlayers(ctx, in.GameID)
	if err != nil {
		return "", err
	}
	if count >= int64(s.cfg.MaxPlayers) {
		return "", Conflictf("maximum of %d players reached", s.cfg.MaxPlayers)
	}

	playerID := uuid.NewString()
	prompt := truncate(in.BotPrompt, maxBotPromptLength)
	isCreator := in.CreatorID != "" && in.CreatorID == game.CreatorID
	// The first joiner of a game nobody has claimed takes the host seat even
	// without the creator credential; they can read it back via UserStatus.
	claimHost := isCreator || (game.CreatorPlayerID == nil && in.CreatorID == "" && count == 0)

	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		player := &db.Player{
			ID:                 playerID,
			GameID:             in.GameID,
			BotName:            in.BotName,
			BotPrompt:          prompt,
			SubmittedBotPrompt: prompt,
			PromptsRemaining:   game.BotPromptChanges,
		}
		if err := tx.CreatePlayer(ctx, player); err != nil {
			return err
		}
		if in.AlignerPrompt != "" {
			if err := tx.UpsertAlignerPrompt(ctx, in.GameID, playerID, truncate(in.AlignerPrompt, 280)); err != nil {
				return err
			}
		}
		if claimHost {
			return tx.SetCreatorPlayer(ctx, in.GameID, playerID)
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", Conflictf("player already joined")
		}
		return "", err
	}

	content := "joined the waiting room"
	if isCreator {
		content = "created the game"
	}
	if _, err := s.queue.Publish(ctx, queue.Input{
		GameID:  in.GameID,
		Type:    queue.TypePlayerJoined,
		Sender:  in.BotName,
		Content: content,
	}); err != nil {
		log.Printf("publish player_joined failed game_id=%s error=%v", in.GameID, err)
	}

	if claimHost && s.cfg.SeedAutoPlayers > 0 {
		go s.seedAutoPlayers(in.GameID, game.BotPromptChanges)
	}
	return playerID, nil
}

func (s *Service) seedAutoPlayers(gameID string, promptChanges int) {
	ctx := context.Background()
	for i := 0; i < s.cfg.SeedAutoPlayers; i++ {
		_, botName, err := s.createAutoPlayer(ctx, gameID, promptChanges)
		if err != nil {
			log.Printf("seed auto player failed game_id=%s error=%v", gameID, err)
			continue
		}
		if _, err := s.queue.Publish(ctx, queue.Input{
			GameID:  gameID,
			Type:    queue.TypePlayerJoined,
			Sender:  botName,
			Content: "joined the waiting room",
		}); err != nil {
			log.Printf("publish player_joined failed game_id=%s error=%v", gameID, err)
		}
	}
}

func (s *Service) createAutoPlayer(ctx context.Context, gameID string, promptChanges int) (string, string, error) {
	playerID := uuid.NewString()
	botName := RandomBotName()
	botPrompt := truncate(RandomBotPrompt(), maxBotPromptLength)
	alignerPrompt := RandomAlignerPrompt()

	err := s.store.Transaction(ctx, func(tx *db.Store) error {
		player := &db.Player{
			ID:                 playerID,
			GameID:             gameID,
			BotName:            botName,
			BotPrompt:          botPrompt,
			SubmittedBotPrompt: botPrompt,
			PromptsRemaining:   promptChanges,
			IsAuto:             true,
		}
		if err := tx.CreatePlayer(ctx, player); err != nil {
			return err
		}
		return tx.UpsertAlignerPrompt(ctx, gameID, playerID, alignerPrompt)
	})
	if err != nil {
		return "", "", err
	}
	return playerID, botName, nil
}

// SubmitAlignerPrompt records a player's judging instruction. When the last
// missing contributor submits during setup, the message carries the
// completion action.
func (s *Service) SubmitAlignerPrompt(ctx context.Context, gameID, playerID, prompt string) error {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return err
	}
	player, err := s.requireActivePlayer(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return Validationf("aligner prompt is required")
	}
	if err := s.store.UpsertAlignerPrompt(ctx, gameID, playerID, truncate(prompt, 280)); err != nil {
		return err
	}

	in := queue.Input{
		GameID:  gameID,
		Type:    queue.TypeAlignerPromptSubmitted,
		Sender:  player.BotName,
		Content: "submitted a judging instruction",
	}
	if game.Status == db.GameStatusAlignerSetup {
		missing, err := s.store.CountPlayersMissingAlignerPrompt(ctx, gameID)
		if err != nil {
			return err
		}
		if missing == 0 {
			in.StateChange = &queue.StateChange{Action: actionCompleteAlignerSetup}
		}
	}
	_, err = s.queue.Publish(ctx, in)
	return err
}

type countdownPayload struct {
	StartedAtMS int64 `json:"startedAtMs"`
}

// StartCountdown arms the lobby countdown. Idempotent: a second call returns
// the existing stamp.
func (s *Service) StartCountdown(ctx context.Context, gameID, creatorID string) (time.Time, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return time.Time{}, err
	}
	if game.CreatorID != creatorID {
		return time.Time{}, Forbiddenf("forbidden")
	}
	if game.Status != db.GameStatusLobby {
		return time.Time{}, Conflictf("game is not in lobby")
	}
	if game.CountdownStartedAt != nil {
		return *game.CountdownStartedAt, nil
	}

	startedAt := time.Now().UTC().Truncate(time.Millisecond)
	payload, err := json.Marshal(countdownPayload{StartedAtMS: startedAt.UnixMilli()})
	if err != nil {
		return time.Time{}, err
	}
	_, err = s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeCountdownStarted,
		Content:     "The host started the countdown! Make sure your prompts are ready!",
		StateChange: &queue.StateChange{Action: actionStartCountdown, Payload: payload},
	})
	if err != nil {
		return time.Time{}, err
	}
	return startedAt, nil
}

func (s *Service) countdownDuration() time.Duration {
	return time.Duration(s.cfg.CountdownSeconds) * time.Second
}

// CheckCountdownExpiry force-starts a lobby whose countdown has run out.
// The expiry claim guarantees concurrent checks start the game once.
func (s *Service) CheckCountdownExpiry(ctx context.Context, gameID string) (bool, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		if err == db.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if game.Status != db.GameStatusLobby || game.CountdownStartedAt == nil {
		return false, nil
	}
	if time.Since(*game.CountdownStartedAt) < s.countdownDuration() {
		return false, nil
	}
	won, err := s.store.ClaimCountdownExpiry(ctx, gameID, *game.CountdownStartedAt)
	if err != nil || !won {
		return false, err
	}
	if err := s.startGame(ctx, gameID); err != nil {
		log.Printf("countdown auto-start failed game_id=%s error=%v", gameID, err)
		return false, nil
	}
	return true, nil
}

// SweepExpiredCountdowns runs one pass of the countdown sweeper.
func (s *Service) SweepExpiredCountdowns(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.countdownDuration())
	expired, err := s.store.ListCountdownExpired(ctx, cutoff)
	if err != nil {
		log.Printf("countdown sweep failed error=%v", err)
		return
	}
	for _, game := range expired {
		if _, err := s.CheckCountdownExpiry(ctx, game.ID); err != nil {
			log.Printf("countdown expiry check failed game_id=%s error=%v", game.ID, err)
		}
	}
}

// StartGame begins the setup phase. Host only; idempotent once out of the
// lobby.
func (s *Service) StartGame(ctx context.Context, gameID, creatorID string) (string, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	if game.CreatorID != creatorID {
		return "", Forbiddenf("forbidden")
	}
	if game.Status != db.GameStatusLobby {
		return game.Status, nil
	}
	if err := s.startGame(ctx, gameID); err != nil {
		return "", err
	}
	fresh, err := s.requireGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	return fresh.Status, nil
}

func (s *Service) startGame(ctx context.Context, gameID string) error {
	if err := s.llm.CheckAvailability(ctx); err != nil {
		return Validationf("LLM is not available: %v", err)
	}
	_, err := s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeGameStarted,
		Sender:      "Game Start",
		Content:     "The game is starting. Submit your judging instructions!",
		StateChange: &queue.StateChange{Action: actionStartGame},
	})
	return err
}

type LeaveResult struct {
	HostTransferred bool   `json:"hostTransferred"`
	GameEnded       bool   `json:"gameEnded"`
	NewHostName     string `json:"newHostName,omitempty"`
}

// LeaveGame soft-deletes the player. The host seat moves to the next human;
// a game with no humans left ends.
func (s *Service) LeaveGame(ctx context.Context, gameID, playerID string) (*LeaveResult, error) {
	if _, err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	player, err := s.store.GetPlayer(ctx, gameID, playerID)
	if err != nil || player.LeftAt != nil {
		return nil, NotFoundf("player not found or already left")
	}

	result := LeaveResult{}
	var gameStatus string
	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.MarkPlayerLeft(ctx, playerID, time.Now().UTC()); err != nil {
			return err
		}
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		gameStatus = game.Status
		isHost := game.CreatorPlayerID != nil && *game.CreatorPlayerID == playerID

		humans, err := tx.ActiveHumanPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		if isHost && len(humans) > 0 {
			if err := tx.TransferHost(ctx, gameID, humans[0].ID, uuid.NewString()); err != nil {
				return err
			}
			result.HostTransferred = true
			result.NewHostName = humans[0].BotName
		} else if len(humans) == 0 {
			if _, err := tx.EndGame(ctx, gameID); err != nil {
				return err
			}
			result.GameEnded = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	content := "left the game"
	if gameStatus == db.GameStatusLobby {
		content = "left the waiting room"
	}
	s.publishInstant(ctx, gameID, queue.TypePlayerLeft, player.BotName, content)
	if result.HostTransferred {
		s.publishInstant(ctx, gameID, queue.TypePlayerLeft, "", result.NewHostName+" is now the host")
	}
	if result.GameEnded {
		s.publishInstant(ctx, gameID, queue.TypePlayerLeft, "", "Game ended, all players left")
		s.queue.Release(gameID)
	}

	if gameStatus == db.GameStatusLobby && !result.GameEnded {
		s.clearCountdownIfUnderfilled(ctx, gameID)
	}
	// The leaver may have been the last blocker of the current turn.
	if gameStatus == db.GameStatusStarted && !result.GameEnded {
		go s.tryAutoProcess(gameID)
	}
	return &result, nil
}

func (s *Service) clearCountdownIfUnderfilled(ctx context.Context, gameID string) {
	count, err := s.store.CountActivePlayers(ctx, gameID)
	if err != nil {
		log.Printf("count players failed game_id=%s error=%v", gameID, err)
		return
	}
	if count < 2 {
		if err := s.store.ClearCountdown(ctx, gameID); err != nil {
			log.Printf("clear countdown failed game_id=%s error=%v", gameID, err)
		}
	}
}

func (s *Service) publishInstant(ctx context.Context, gameID, msgType, sender, content string) {
	if _, err := s.queue.Publish(ctx, queue.Input{
		GameID:  gameID,
		Type:    msgType,
		Sender:  sender,
		Content: content,
	}); err != nil {
		log.Printf("publish failed game_id=%s type=%s error=%v", gameID, msgType, err)
	}
}

// AddAutoPlayer adds one auto player to the lobby. Host only.
func (s *Service) AddAutoPlayer(ctx context.Context, gameID, creatorID string) (string, string, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return "", "", err
	}
	if game.CreatorID != creatorID {
		return "", "", Forbiddenf("forbidden")
	}
	if game.Status != db.GameStatusLobby {
		return "", "", Conflictf("game is not in lobby")
	}
	count, err := s.store.CountActivePlayers(ctx, gameID)
	if err != nil {
		return "", "", err
	}
	if count >= int64(s.cfg.MaxPlayers) {
		return "", "", Conflictf("maximum of %d players reached", s.cfg.MaxPlayers)
	}
	playerID, botName, err := s.createAutoPlayer(ctx, gameID, game.BotPromptChanges)
	if err != nil {
		return "", "", err
	}
	s.publishInstant(ctx, gameID, queue.TypePlayerJoined, botName, "joined the waiting room")
	return playerID, botName, nil
}

// RemoveAutoPlayer drops an auto player and its judging contribution.
func (s *Service) RemoveAutoPlayer(ctx context.Context, gameID, creatorID, playerID string) error {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.CreatorID != creatorID {
		return Forbiddenf("forbidden")
	}
	if game.Status != db.GameStatusLobby {
		return Conflictf("game is not in lobby")
	}
	player, err := s.store.GetPlayer(ctx, gameID, playerID)
	if err != nil || player.LeftAt != nil || !player.IsAuto {
		return NotFoundf("auto player not found")
	}

	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.MarkPlayerLeft(ctx, playerID, time.Now().UTC()); err != nil {
			return err
		}
		return tx.DeleteAlignerPrompt(ctx, gameID, playerID)
	})
	if err != nil {
		return err
	}
	s.publishInstant(ctx, gameID, queue.TypePlayerLeft, player.BotName, "left the waiting room")
	if game.CountdownStartedAt != nil {
		s.clearCountdownIfUnderfilled(ctx, gameID)
	}
	return nil
}

// PlayAgain links a fresh lobby to an ended game. The first caller creates
// it; everyone else is routed to the same successor.
func (s *Service) PlayAgain(ctx context.Context, gameID string) (*CreatedGame, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != db.GameStatusEnded {
		return nil, Conflictf("game has not ended")
	}
	if game.NextGameID != nil {
		return &CreatedGame{GameID: *game.NextGameID}, nil
	}

	created, err := s.CreateGame(ctx)
	if err != nil {
		return nil, err
	}
	won, err := s.store.LinkNextGame(ctx, gameID, created.GameID)
	if err != nil {
		return nil, err
	}
	if !won {
		fresh, err := s.requireGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if fresh.NextGameID != nil {
			return &CreatedGame{GameID: *fresh.NextGameID}, nil
		}
	}
	return created, nil
}

type PlayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Points       int    `json:"points"`
	TurnComplete bool   `json:"turnComplete"`
	IsHost       bool   `json:"isHost"`
	IsAuto       bool   `json:"isAuto"`
}

type GameView struct {
	Status             string       `json:"status"`
	Bots               []PlayerView `json:"bots"`
	PointsToWin        int          `json:"pointsToWin"`
	BotPromptChanges   int          `json:"botPromptChanges"`
	CountdownStartedAt *time.Time   `json:"countdownStartedAt"`
}

func (s *Service) GameStatus(ctx context.Context, gameID string) (*GameView, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ActivePlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	view := &GameView{
		Status:             game.Status,
		Bots:               make([]PlayerView, 0, len(players)),
		PointsToWin:        game.PointsToWin,
		BotPromptChanges:   game.BotPromptChanges,
		CountdownStartedAt: game.CountdownStartedAt,
	}
	for _, p := range players {
		view.Bots = append(view.Bots, PlayerView{
			ID:           p.ID,
			Name:         p.BotName,
			Points:       p.Score,
			TurnComplete: p.TurnComplete,
			IsHost:       game.CreatorPlayerID != nil && *game.CreatorPlayerID == p.ID,
			IsAuto:       p.IsAuto,
		})
	}
	return view, nil
}

type UserView struct {
	Points           int    `json:"points"`
	PromptsRemaining int    `json:"promptsRemaining"`
	SubmittedPrompt  string `json:"submittedPrompt"`
	CreatorID        string `json:"creatorId,omitempty"`
}

// UserStatus returns the caller's private projection. The creator credential
// is revealed only to the host seat.
func (s *Service) UserStatus(ctx context.Context, gameID, playerID string) (*UserView, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	player, err := s.requireActivePlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	view := &UserView{
		Points:           player.Score,
		PromptsRemaining: player.PromptsRemaining,
		SubmittedPrompt:  player.SubmittedBotPrompt,
	}
	if game.CreatorPlayerID != nil && *game.CreatorPlayerID == playerID {
		view.CreatorID = game.CreatorID
	}
	return view, nil
}

// truncate caps value at max characters, never splitting a rune.
func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) > max {
		return string(runes[:max])
	}
	return value
}

func shuffledCopy(items []string) []string {
	out := append([]string(nil), items...)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
