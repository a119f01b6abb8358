package db

import (
	"context"

	"gorm.io/gorm/clause"
)

// UpsertTurnResponse records a player's response for the turn, replacing any
// earlier submission for the same turn.
func (s *Store) UpsertTurnResponse(ctx context.Context, resp *TurnResponse) error {
	return s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "turn_id"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"response_text"}),
	}).Create(resp).Error
}

// TurnResponses returns the responses for a turn keyed by player.
func (s *Store) TurnResponses(ctx context.Context, gameID string, turnID int) ([]TurnResponse, error) {
	var responses []TurnResponse
	err := s.db(ctx).
		Where("game_id = ? AND turn_id = ?", gameID, turnID).
		Order("player_id").
		Find(&responses).Error
	return responses, err
}
