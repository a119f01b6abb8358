package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

func (s *Store) CreatePlayer(ctx context.Context, player *Player) error {
	now := timeNowUTC()
	player.CreatedAt = now
	player.UpdatedAt = now
	return s.db(ctx).Create(player).Error
}

func (s *Store) GetPlayer(ctx context.Context, gameID, playerID string) (*Player, error) {
	var player Player
	err := s.db(ctx).First(&player, "game_id = ? AND id = ?", gameID, playerID).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &player, nil
}

func (s *Store) GetPlayerByID(ctx context.Context, playerID string) (*Player, error) {
	var player Player
	if err := s.db(ctx).First(&player, "id = ?", playerID).Error; err != nil {
		return nil, translateErr(err)
	}
	return &player, nil
}

// ActivePlayers returns players that have not left, in join order.
func (s *Store) ActivePlayers(ctx context.Context, gameID string) ([]Player, error) {
	var players []Player
	err := s.db(ctx).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Order("created_at, id").
		Find(&players).Error
	return players, err
}

func (s *Store) ActiveHumanPlayers(ctx context.Context, gameID string) ([]Player, error) {
	var players []Player
	err := s.db(ctx).
		Where("game_id = ? AND is_auto = ? AND left_at IS NULL", gameID, false).
		Order("created_at, id").
		Find(&players).Error
	return players, err
}

func (s *Store) ActiveAutoPlayers(ctx context.Context, gameID string) ([]Player, error) {
	var players []Player
	err := s.db(ctx).
		Where("game_id = ? AND is_auto = ? AND left_at IS NULL", gameID, true).
		Order("created_at, id").
		Find(&players).Error
	return players, err
}

func (s *Store) CountActivePlayers(ctx context.Context, gameID string) (int64, error) {
	var count int64
	err := s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Count(&count).Error
	return count, err
}

// ResetTurnComplete clears the completion flag for every active player, as a
// single statement so the turn-start transition resets everyone at once.
func (s *Store) ResetTurnComplete(ctx context.Context, gameID string) error {
	return s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Updates(map[string]any{"turn_complete": false, "updated_at": timeNowUTC()}).Error
}

func (s *Store) ResetPromptsRemaining(ctx context.Context, gameID string, remaining int) error {
	return s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Updates(map[string]any{"prompts_remaining": remaining, "updated_at": timeNowUTC()}).Error
}

// RecordSubmission stores the player's (possibly updated) behavior prompt and
// marks the turn complete.
func (s *Store) RecordSubmission(ctx context.Context, playerID, botPrompt string, promptsRemaining int) error {
	return s.db(ctx).Model(&Player{}).Where("id = ?", playerID).
		Updates(map[string]any{
			"bot_prompt":           botPrompt,
			"submitted_bot_prompt": botPrompt,
			"prompts_remaining":    promptsRemaining,
			"turn_complete":        true,
			"updated_at":           timeNowUTC(),
		}).Error
}

// MarkPlayerLeft soft-deletes the player and marks them complete so they stop
// blocking the in-flight turn.
func (s *Store) MarkPlayerLeft(ctx context.Context, playerID string, at time.Time) error {
	return s.db(ctx).Model(&Player{}).Where("id = ?", playerID).
		Updates(map[string]any{"left_at": at, "turn_complete": true, "updated_at": timeNowUTC()}).Error
}

func (s *Store) IncrementScore(ctx context.Context, playerID string) error {
	return s.db(ctx).Model(&Player{}).Where("id = ?", playerID).
		Updates(map[string]any{
			"score":      gorm.Expr("score + 1"),
			"updated_at": timeNowUTC(),
		}).Error
}

// AllActiveComplete reports whether every active player has completed the
// current turn. False when the game has no active players.
func (s *Store) AllActiveComplete(ctx context.Context, gameID string) (bool, error) {
	var total, incomplete int64
	if err := s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	if err := s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL AND turn_complete = ?", gameID, false).
		Count(&incomplete).Error; err != nil {
		return false, err
	}
	return incomplete == 0, nil
}
