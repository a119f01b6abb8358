package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/erhathaway/bots-against-alignment/internal/db"
)

// ProcessFunc is invoked when a message publishes, with the message whose
// metadata may carry a state change. Wired after construction because the
// processor itself publishes messages.
type ProcessFunc func(ctx context.Context, msg *db.GameMessage) error

// Listener observes every published message, for fanout to live connections.
type Listener func(gameID string, msg *db.GameMessage)

const publishRetries = 3

// MessageQueue routes messages onto the per-game feed. Instant messages
// persist already published and are processed inline; buffered messages
// persist unpublished and wait behind the game's drain loop, which publishes
// one at a time and holds each for its reveal window.
type MessageQueue struct {
	store    *db.Store
	process  ProcessFunc
	listener Listener
	sleep    func(time.Duration)

	mu    sync.Mutex
	games map[string]*gameQueue
}

type gameQueue struct {
	mu       sync.Mutex
	pending  []*db.GameMessage
	draining bool
	released bool
}

func NewMessageQueue(store *db.Store) *MessageQueue {
	return &MessageQueue{
		store: store,
		sleep: time.Sleep,
		games: make(map[string]*gameQueue),
	}
}

// SetProcessor wires the state-change processor. Must be called before the
// first Publish.
func (q *MessageQueue) SetProcessor(fn ProcessFunc) {
	q.process = fn
}

// SetListener wires the publish observer.
func (q *MessageQueue) SetListener(fn Listener) {
	q.listener = fn
}

// SetSleep overrides the reveal-window sleep. Tests use it to drain without
// real delays.
func (q *MessageQueue) SetSleep(fn func(time.Duration)) {
	q.sleep = fn
}

// Publish enqueues a message. Instant types are visible and processed before
// Publish returns; buffered types return as soon as the row is persisted and
// surface later in queue order.
func (q *MessageQueue) Publish(ctx context.Context, in Input) (*db.GameMessage, error) {
	if in.GameID == "" || in.Type == "" {
		return nil, errors.New("message requires a game id and type")
	}
	msg := &db.GameMessage{
		GameID:  in.GameID,
		Type:    in.Type,
		Content: in.Content,
	}
	if in.Sender != "" {
		sender := in.Sender
		msg.SenderName = &sender
	}
	if in.StateChange != nil {
		raw, err := json.Marshal(Metadata{StateChange: in.StateChange})
		if err != nil {
			return nil, err
		}
		msg.Metadata = raw
	}

	duration, buffered := BufferDuration(in.Type)
	if in.BufferDuration > 0 {
		duration, buffered = in.BufferDuration, true
	}
	if !buffered {
		return q.publishInstant(ctx, msg)
	}
	msg.Channel = ChannelBuffered
	ms := duration.Milliseconds()
	msg.BufferDurationMS = &ms
	if err := q.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	q.enqueue(in.GameID, msg)
	return msg, nil
}

func (q *MessageQueue) publishInstant(ctx context.Context, msg *db.GameMessage) (*db.GameMessage, error) {
	now := time.Now().UTC()
	msg.Channel = ChannelInstant
	msg.PublishedAt = &now
	if err := q.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	q.notify(msg)
	if err := q.runStateChange(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Recover reloads a game's unpublished backlog and restarts its drain loop.
func (q *MessageQueue) Recover(ctx context.Context, gameID string) error {
	backlog, err := q.store.UnpublishedBufferedMessages(ctx, gameID)
	if err != nil {
		return err
	}
	for i := range backlog {
		q.enqueue(gameID, &backlog[i])
	}
	return nil
}

// RecoverAll restarts drain loops for every game with backlog. Called once at
// startup.
func (q *MessageQueue) RecoverAll(ctx context.Context) error {
	gameIDs, err := q.store.GamesWithUnpublishedBuffered(ctx)
	if err != nil {
		return err
	}
	for _, gameID := range gameIDs {
		if err := q.Recover(ctx, gameID); err != nil {
			return err
		}
	}
	return nil
}

// Release marks a game's queue for teardown. Messages already enqueued still
// drain to completion; the registry entry is dropped once the backlog empties.
// An idle queue is dropped immediately.
func (q *MessageQueue) Release(gameID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	gq, ok := q.games[gameID]
	if !ok {
		return
	}
	gq.mu.Lock()
	if gq.draining || len(gq.pending) > 0 {
		gq.released = true
	} else {
		delete(q.games, gameID)
	}
	gq.mu.Unlock()
}

// remove drops a released queue once its drain loop has gone idle, unless a
// later enqueue put it back to work.
func (q *MessageQueue) remove(gameID string, gq *gameQueue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.games[gameID]; !ok || cur != gq {
		return
	}
	gq.mu.Lock()
	idle := !gq.draining && len(gq.pending) == 0
	gq.mu.Unlock()
	if idle {
		delete(q.games, gameID)
	}
}

func (q *MessageQueue) gameQueueFor(gameID string) *gameQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	gq, ok := q.games[gameID]
	if !ok {
		gq = &gameQueue{}
		q.games[gameID] = gq
	}
	return gq
}

func (q *MessageQueue) enqueue(gameID string, msg *db.GameMessage) {
	gq := q.gameQueueFor(gameID)
	gq.mu.Lock()
	gq.pending = append(gq.pending, msg)
	start := !gq.draining
	if start {
		gq.draining = true
	}
	gq.mu.Unlock()
	if start {
		go q.drain(gameID, gq)
	}
}

// drain publishes buffered messages one at a time, sleeping through each
// reveal window so the next message cannot preempt it.
func (q *MessageQueue) drain(gameID string, gq *gameQueue) {
	ctx := context.Background()
	for {
		gq.mu.Lock()
		if len(gq.pending) == 0 {
			gq.draining = false
			released := gq.released
			gq.mu.Unlock()
			if released {
				q.remove(gameID, gq)
			}
			return
		}
		msg := gq.pending[0]
		gq.pending = gq.pending[1:]
		gq.mu.Unlock()

		won, err := q.markPublished(ctx, msg)
		if err != nil {
			log.Printf("queue publish failed game=%s message=%d err=%v", gameID, msg.ID, err)
			gq.mu.Lock()
			gq.pending = append([]*db.GameMessage{msg}, gq.pending...)
			gq.draining = false
			gq.mu.Unlock()
			return
		}
		if !won {
			// Already published by an earlier run; skip without replaying
			// its state change.
			continue
		}
		q.notify(msg)
		if err := q.runStateChange(ctx, msg); err != nil {
			log.Printf("state change failed game=%s message=%d type=%s err=%v", gameID, msg.ID, msg.Type, err)
		}
		if msg.BufferDurationMS != nil {
			q.sleep(time.Duration(*msg.BufferDurationMS) * time.Millisecond)
		}
	}
}

func (q *MessageQueue) markPublished(ctx context.Context, msg *db.GameMessage) (bool, error) {
	var duration time.Duration
	if msg.BufferDurationMS != nil {
		duration = time.Duration(*msg.BufferDurationMS) * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			q.sleep(250 * time.Millisecond)
		}
		now := time.Now().UTC()
		ends := now.Add(duration)
		won, err := q.store.MarkMessagePublished(ctx, msg.ID, now, ends)
		if err == nil {
			if won {
				msg.PublishedAt = &now
				msg.WindowEndsAt = &ends
			}
			return won, nil
		}
		lastErr = err
	}
	return false, lastErr
}

func (q *MessageQueue) runStateChange(ctx context.Context, msg *db.GameMessage) error {
	if len(msg.Metadata) == 0 || q.process == nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		return err
	}
	if meta.StateChange == nil {
		return nil
	}
	return q.process(ctx, msg)
}

func (q *MessageQueue) notify(msg *db.GameMessage) {
	if q.listener != nil {
		q.listener(msg.GameID, msg)
	}
}
