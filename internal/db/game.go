package db

import (
	"context"
	"time"
)

func (s *Store) CreateGame(ctx context.Context, game *Game) error {
	now := timeNowUTC()
	game.CreatedAt = now
	game.UpdatedAt = now
	return s.db(ctx).Create(game).Error
}

func (s *Store) GetGame(ctx context.Context, gameID string) (*Game, error) {
	var game Game
	if err := s.db(ctx).First(&game, "id = ?", gameID).Error; err != nil {
		return nil, translateErr(err)
	}
	return &game, nil
}

func (s *Store) UpdateGameSettings(ctx context.Context, gameID string, updates map[string]any) error {
	updates["updated_at"] = timeNowUTC()
	return s.db(ctx).Model(&Game{}).Where("id = ?", gameID).Updates(updates).Error
}

func (s *Store) SetCreatorPlayer(ctx context.Context, gameID, playerID string) error {
	return s.db(ctx).Model(&Game{}).Where("id = ?", gameID).
		Updates(map[string]any{"creator_player_id": playerID, "updated_at": timeNowUTC()}).Error
}

func (s *Store) TransferHost(ctx context.Context, gameID, playerID, creatorID string) error {
	return s.db(ctx).Model(&Game{}).Where("id = ?", gameID).
		Updates(map[string]any{
			"creator_player_id": playerID,
			"creator_id":        creatorID,
			"updated_at":        timeNowUTC(),
		}).Error
}

// TransitionStatus performs a compare-and-set on Game.Status, optionally
// applying extra column updates when the transition wins.
func (s *Store) TransitionStatus(ctx context.Context, gameID, from, to string, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": timeNowUTC()}
	for column, value := range extra {
		updates[column] = value
	}
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND status = ?", gameID, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// EndGame transitions the game to ENDED regardless of its current status.
// Safe to replay.
func (s *Store) EndGame(ctx context.Context, gameID string) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND status <> ?", gameID, GameStatusEnded).
		Updates(map[string]any{"status": GameStatusEnded, "updated_at": timeNowUTC()})
	return res.RowsAffected == 1, res.Error
}

// StampCountdown records the countdown start once; a second stamp is a no-op.
func (s *Store) StampCountdown(ctx context.Context, gameID string, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND status = ? AND countdown_started_at IS NULL", gameID, GameStatusLobby).
		Updates(map[string]any{"countdown_started_at": at, "updated_at": timeNowUTC()})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ClearCountdown(ctx context.Context, gameID string) error {
	return s.db(ctx).Model(&Game{}).Where("id = ?", gameID).
		Updates(map[string]any{"countdown_started_at": nil, "updated_at": timeNowUTC()}).Error
}

// ClaimCountdownExpiry clears a specific countdown stamp so that exactly one
// of any concurrent expiry checks proceeds to force-start the game.
func (s *Store) ClaimCountdownExpiry(ctx context.Context, gameID string, startedAt time.Time) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND status = ? AND countdown_started_at = ?", gameID, GameStatusLobby, startedAt).
		Updates(map[string]any{"countdown_started_at": nil, "updated_at": timeNowUTC()})
	return res.RowsAffected == 1, res.Error
}

// ListCountdownExpired returns LOBBY games whose countdown started at or
// before the cutoff.
func (s *Store) ListCountdownExpired(ctx context.Context, cutoff time.Time) ([]Game, error) {
	var games []Game
	err := s.db(ctx).
		Where("status = ? AND countdown_started_at IS NOT NULL AND countdown_started_at <= ?", GameStatusLobby, cutoff).
		Find(&games).Error
	return games, err
}

// ClaimTurnStart flips the turn-open flag for the given turn number. Only one
// caller wins; everyone else re-reads the prompt the winner minted.
func (s *Store) ClaimTurnStart(ctx context.Context, gameID string, turnID int, prompt string) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND turn_id = ? AND turn_started = ?", gameID, turnID, false).
		Updates(map[string]any{"turn_started": true, "turn_prompt": prompt, "updated_at": timeNowUTC()})
	return res.RowsAffected == 1, res.Error
}

// AdvanceTurn closes the named turn and moves the counter forward. Guarded on
// the turn number so a replayed completion cannot advance twice.
func (s *Store) AdvanceTurn(ctx context.Context, gameID string, turnID int) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND turn_id = ?", gameID, turnID).
		Updates(map[string]any{
			"turn_started": false,
			"turn_prompt":  nil,
			"turn_id":      turnID + 1,
			"updated_at":   timeNowUTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// LinkNextGame links a successor game exactly once; the first writer wins.
func (s *Store) LinkNextGame(ctx context.Context, gameID, nextGameID string) (bool, error) {
	res := s.db(ctx).Model(&Game{}).
		Where("id = ? AND next_game_id IS NULL", gameID).
		Updates(map[string]any{"next_game_id": nextGameID, "updated_at": timeNowUTC()})
	return res.RowsAffected == 1, res.Error
}
