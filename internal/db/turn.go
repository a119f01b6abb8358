package db

import (
	"context"

	"gorm.io/gorm/clause"
)

// InsertTurnOpen creates the turn row if it does not already exist. Returns
// true only for the caller whose insert landed; replayed turn starts get
// false and must not re-run the side effects tied to the insert.
func (s *Store) InsertTurnOpen(ctx context.Context, gameID string, turnID int, prompt string) (bool, error) {
	turn := Turn{
		GameID: gameID,
		TurnID: turnID,
		Prompt: prompt,
		Status: TurnStatusOpen,
	}
	res := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&turn)
	if res.Error != nil {
		if IsUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, res.Error
}

func (s *Store) GetTurn(ctx context.Context, gameID string, turnID int) (*Turn, error) {
	var turn Turn
	err := s.db(ctx).First(&turn, "game_id = ? AND turn_id = ?", gameID, turnID).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &turn, nil
}

// MarkTurnProcessed flips the turn OPEN to PROCESSED and records the winner.
// The status guard makes this the single arbiter for concurrent judging: only
// one caller wins, and only that caller may award the point.
func (s *Store) MarkTurnProcessed(ctx context.Context, gameID string, turnID int, winnerPlayerID string) (bool, error) {
	res := s.db(ctx).Model(&Turn{}).
		Where("game_id = ? AND turn_id = ? AND status = ?", gameID, turnID, TurnStatusOpen).
		Updates(map[string]any{
			"status":           TurnStatusProcessed,
			"winner_player_id": winnerPlayerID,
			"processed_at":     timeNowUTC(),
		})
	return res.RowsAffected == 1, res.Error
}
