package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erhathaway/bots-against-alignment/internal/db"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db.NewStore(conn)
}

type recorder struct {
	mu        sync.Mutex
	published []string
	processed []string
	slept     []time.Duration
}

func (r *recorder) listen(_ string, msg *db.GameMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg.Type)
}

func (r *recorder) process(_ context.Context, msg *db.GameMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, msg.Type)
	return nil
}

func (r *recorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
}

func (r *recorder) snapshot() ([]string, []string, []time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.published...),
		append([]string(nil), r.processed...),
		append([]time.Duration(nil), r.slept...)
}

func newTestQueue(t *testing.T) (*MessageQueue, *db.Store, *recorder) {
	t.Helper()
	store := newTestStore(t)
	rec := &recorder{}
	q := NewMessageQueue(store)
	q.sleep = rec.sleep
	q.SetListener(rec.listen)
	q.SetProcessor(rec.process)
	return q, store, rec
}

func waitForPublished(t *testing.T, store *db.Store, gameID string, want int) []db.GameMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := store.PublishedMessagesAfter(context.Background(), gameID, 0)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(msgs) >= want {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d published messages", want)
	return nil
}

func TestInstantPublishIsImmediate(t *testing.T) {
	q, store, rec := newTestQueue(t)
	gameID := uuid.NewString()

	msg, err := q.Publish(context.Background(), Input{
		GameID:  gameID,
		Type:    TypeChat,
		Sender:  "HAL",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg.PublishedAt == nil {
		t.Fatal("instant message must return published")
	}
	feed, err := store.PublishedMessagesAfter(context.Background(), gameID, 0)
	if err != nil || len(feed) != 1 {
		t.Fatalf("feed: len=%d err=%v", len(feed), err)
	}
	published, _, _ := rec.snapshot()
	if len(published) != 1 || published[0] != TypeChat {
		t.Fatalf("listener saw %v", published)
	}
}

func TestBufferedMessagesPublishInOrder(t *testing.T) {
	q, store, rec := newTestQueue(t)
	gameID := uuid.NewString()
	ctx := context.Background()

	types := []string{TypeTurnStarted, TypeBotResponse, TypeRoundWinner}
	for _, msgType := range types {
		if _, err := q.Publish(ctx, Input{
			GameID:      gameID,
			Type:        msgType,
			Content:     msgType,
			StateChange: &StateChange{Action: "noop"},
		}); err != nil {
			t.Fatalf("publish %s: %v", msgType, err)
		}
	}

	feed := waitForPublished(t, store, gameID, len(types))
	for i, msgType := range types {
		if feed[i].Type != msgType {
			t.Fatalf("position %d: got %s want %s", i, feed[i].Type, msgType)
		}
		if feed[i].WindowEndsAt == nil || feed[i].PublishedAt == nil {
			t.Fatalf("position %d: missing window", i)
		}
		want, _ := BufferDuration(msgType)
		got := feed[i].WindowEndsAt.Sub(*feed[i].PublishedAt)
		if got != want {
			t.Fatalf("position %d: window %v want %v", i, got, want)
		}
	}

	deadline := time.Now().Add(time.Second)
	var processed []string
	var slept []time.Duration
	for {
		_, processed, slept = rec.snapshot()
		if len(processed) == len(types) && len(slept) == len(types) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("processed=%d slept=%d, want %d of each", len(processed), len(slept), len(types))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, msgType := range types {
		want, _ := BufferDuration(msgType)
		if slept[i] != want {
			t.Fatalf("sleep %d: got %v want %v", i, slept[i], want)
		}
	}
}

func TestRecoverDrainsBacklogOnce(t *testing.T) {
	q, store, rec := newTestQueue(t)
	gameID := uuid.NewString()
	ctx := context.Background()

	ms := int64(5000)
	backlog := []*db.GameMessage{
		{GameID: gameID, Channel: ChannelBuffered, Type: TypeTurnStarted, Content: "turn 1", BufferDurationMS: &ms},
		{GameID: gameID, Channel: ChannelBuffered, Type: TypeStandings, Content: "standings", BufferDurationMS: &ms},
	}
	for _, msg := range backlog {
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("seed backlog: %v", err)
		}
	}
	// The first row was already published before the restart; recovery must
	// not publish or process it again.
	now := time.Now().UTC()
	if _, err := store.MarkMessagePublished(ctx, backlog[0].ID, now, now.Add(5*time.Second)); err != nil {
		t.Fatalf("pre-publish: %v", err)
	}

	if err := q.RecoverAll(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitForPublished(t, store, gameID, 2)

	published, _, _ := rec.snapshot()
	if len(published) != 1 || published[0] != TypeStandings {
		t.Fatalf("recovery must only publish the unpublished row, saw %v", published)
	}
}

func TestReleaseDrainsPendingBeforeTeardown(t *testing.T) {
	q, store, rec := newTestQueue(t)
	gameID := uuid.NewString()
	ctx := context.Background()

	release := make(chan struct{})
	q.sleep = func(time.Duration) { <-release }

	if _, err := q.Publish(ctx, Input{GameID: gameID, Type: TypeAlignerDeliberation, Content: "deliberating"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForPublished(t, store, gameID, 1)
	if _, err := q.Publish(ctx, Input{
		GameID:      gameID,
		Type:        TypeRoundWinner,
		Content:     "winner",
		StateChange: &StateChange{Action: "award"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Teardown lands mid-window. The queued verdict must still publish and
	// its state change must still run before the queue goes away.
	q.Release(gameID)
	close(release)

	waitForPublished(t, store, gameID, 2)
	processedDeadline := time.Now().Add(time.Second)
	for {
		_, processed, _ := rec.snapshot()
		if len(processed) == 1 && processed[0] == TypeRoundWinner {
			break
		}
		if time.Now().After(processedDeadline) {
			t.Fatalf("pending state change must run after release, processed=%v", processed)
		}
		time.Sleep(5 * time.Millisecond)
	}
	backlog, err := store.UnpublishedBufferedMessages(ctx, gameID)
	if err != nil || len(backlog) != 0 {
		t.Fatalf("backlog must be empty: len=%d err=%v", len(backlog), err)
	}
	waitFor := time.Now().Add(time.Second)
	for {
		q.mu.Lock()
		_, ok := q.games[gameID]
		q.mu.Unlock()
		if !ok {
			break
		}
		if time.Now().After(waitFor) {
			t.Fatal("registry entry must be dropped once the backlog drains")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReleaseIdleQueueDropsImmediately(t *testing.T) {
	q, store, _ := newTestQueue(t)
	gameID := uuid.NewString()

	if _, err := q.Publish(context.Background(), Input{GameID: gameID, Type: TypeStandings, Content: "standings"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForPublished(t, store, gameID, 1)
	waitForIdle := time.Now().Add(time.Second)
	for {
		q.mu.Lock()
		gq := q.games[gameID]
		q.mu.Unlock()
		if gq != nil {
			gq.mu.Lock()
			idle := !gq.draining
			gq.mu.Unlock()
			if idle {
				break
			}
		}
		if time.Now().After(waitForIdle) {
			t.Fatal("drain never went idle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q.Release(gameID)
	q.mu.Lock()
	_, ok := q.games[gameID]
	q.mu.Unlock()
	if ok {
		t.Fatal("idle queue must be dropped on release")
	}
}

func TestPublishHonorsDurationOverride(t *testing.T) {
	q, store, rec := newTestQueue(t)
	gameID := uuid.NewString()

	override := 250 * time.Millisecond
	if _, err := q.Publish(context.Background(), Input{
		GameID:         gameID,
		Type:           TypeTurnStarted,
		Content:        "turn 1",
		BufferDuration: override,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	feed := waitForPublished(t, store, gameID, 1)
	if feed[0].WindowEndsAt == nil || feed[0].PublishedAt == nil {
		t.Fatal("missing window")
	}
	if got := feed[0].WindowEndsAt.Sub(*feed[0].PublishedAt); got != override {
		t.Fatalf("window %v, want the override %v", got, override)
	}
	deadline := time.Now().Add(time.Second)
	for {
		_, _, slept := rec.snapshot()
		if len(slept) == 1 && slept[0] == override {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slept %v, want one window of %v", slept, override)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
