package db

import (
	"context"
	"time"
)

// InsertMessage appends a message row. Instant messages arrive with
// PublishedAt already set; buffered ones stay invisible until the queue
// publishes them.
func (s *Store) InsertMessage(ctx context.Context, msg *GameMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = timeNowUTC()
	}
	return s.db(ctx).Create(msg).Error
}

// MarkMessagePublished stamps the visibility window onto an unpublished row.
// Guarded so a crash-recovery replay cannot move an already published window.
func (s *Store) MarkMessagePublished(ctx context.Context, messageID uint, publishedAt, windowEndsAt time.Time) (bool, error) {
	res := s.db(ctx).Model(&GameMessage{}).
		Where("id = ? AND published_at IS NULL", messageID).
		Updates(map[string]any{"published_at": publishedAt, "window_ends_at": windowEndsAt})
	return res.RowsAffected == 1, res.Error
}

// PublishedMessagesAfter returns the visible feed for a game past a cursor,
// in publish order.
func (s *Store) PublishedMessagesAfter(ctx context.Context, gameID string, afterID uint) ([]GameMessage, error) {
	var messages []GameMessage
	err := s.db(ctx).
		Where("game_id = ? AND id > ? AND published_at IS NOT NULL", gameID, afterID).
		Order("published_at, id").
		Find(&messages).Error
	return messages, err
}

// UnpublishedBufferedMessages returns the backlog the drain loop picks up on
// recovery, oldest first.
func (s *Store) UnpublishedBufferedMessages(ctx context.Context, gameID string) ([]GameMessage, error) {
	var messages []GameMessage
	err := s.db(ctx).
		Where("game_id = ? AND channel = ? AND published_at IS NULL", gameID, "buffered").
		Order("id").
		Find(&messages).Error
	return messages, err
}

// GamesWithUnpublishedBuffered lists game ids that still have buffered
// backlog, for startup recovery.
func (s *Store) GamesWithUnpublishedBuffered(ctx context.Context) ([]string, error) {
	var gameIDs []string
	err := s.db(ctx).Model(&GameMessage{}).
		Distinct("game_id").
		Where("channel = ? AND published_at IS NULL", "buffered").
		Pluck("game_id", &gameIDs).Error
	return gameIDs, err
}
