package db

import (
	"context"

	"gorm.io/gorm/clause"
)

// UpsertAlignerPrompt stores or replaces a player's judging instruction.
func (s *Store) UpsertAlignerPrompt(ctx context.Context, gameID, playerID, prompt string) error {
	row := AlignerPrompt{GameID: gameID, PlayerID: playerID, Prompt: prompt}
	return s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prompt"}),
	}).Create(&row).Error
}

func (s *Store) AlignerPromptsForGame(ctx context.Context, gameID string) ([]AlignerPrompt, error) {
	var prompts []AlignerPrompt
	err := s.db(ctx).
		Where("game_id = ?", gameID).
		Order("player_id").
		Find(&prompts).Error
	return prompts, err
}

func (s *Store) DeleteAlignerPrompt(ctx context.Context, gameID, playerID string) error {
	return s.db(ctx).
		Where("game_id = ? AND player_id = ?", gameID, playerID).
		Delete(&AlignerPrompt{}).Error
}

// CountPlayersMissingAlignerPrompt counts active players that have not yet
// submitted a judging instruction.
func (s *Store) CountPlayersMissingAlignerPrompt(ctx context.Context, gameID string) (int64, error) {
	var count int64
	err := s.db(ctx).Model(&Player{}).
		Where("game_id = ? AND left_at IS NULL", gameID).
		Where("id NOT IN (?)", s.db(ctx).Model(&AlignerPrompt{}).
			Select("player_id").Where("game_id = ?", gameID)).
		Count(&count).Error
	return count, err
}
