package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store wraps a gorm connection with typed CRUD operations for the game
// entities. All conditional updates report whether they won the transition so
// callers can arbitrate races without advisory locks.
type Store struct {
	conn *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{conn: conn}
}

// Transaction runs fn against a transactional Store. Multi-row updates that
// must be atomic (player resets, soft deletes plus host transfer) go through
// here.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{conn: tx})
	})
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.conn.WithContext(ctx)
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// IsUniqueViolation reports whether err is a unique-constraint violation from
// Postgres (or the sqlite driver used in tests).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func timeNowUTC() time.Time {
	return time.Now().UTC()
}
