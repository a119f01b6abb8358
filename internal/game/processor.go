package game

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/llm"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
)

// State-change actions carried in message metadata. Every handler tolerates
// replay: conditional updates arbitrate, and a lost update is a no-op.
const (
	actionStartCountdown       = "start_countdown"
	actionStartGame            = "start_game"
	actionCompleteAlignerSetup = "complete_aligner_setup"
	actionStartTurn            = "start_turn"
	actionSubmitResponse       = "submit_response"
	actionAwardPoint           = "award_point"
	actionCompleteTurn         = "complete_turn"
	actionEndGame              = "end_game"
)

type startTurnPayload struct {
	TurnID int    `json:"turnId"`
	Prompt string `json:"prompt"`
}

type submitResponsePayload struct {
	PlayerID     string `json:"playerId"`
	TurnID       int    `json:"turnId"`
	ResponseText string `json:"responseText"`
	Suggestion   string `json:"suggestion,omitempty"`
}

type awardPointPayload struct {
	PlayerID string `json:"playerId"`
	TurnID   int    `json:"turnId"`
}

type completeTurnPayload struct {
	TurnID   int    `json:"turnId"`
	WinnerID string `json:"winnerId"`
	GameOver bool   `json:"gameOver"`
}

type endGamePayload struct {
	WinnerID string `json:"winnerId"`
}

// Process dispatches a published message's state change.
func (s *Service) Process(ctx context.Context, msg *db.GameMessage) error {
	var meta queue.Metadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		return err
	}
	if meta.StateChange == nil {
		return nil
	}
	action := meta.StateChange.Action
	payload := meta.StateChange.Payload

	switch action {
	case actionStartCountdown:
		return s.handleStartCountdown(ctx, msg.GameID, payload)
	case actionStartGame:
		return s.handleStartGame(ctx, msg.GameID)
	case actionCompleteAlignerSetup:
		return s.handleCompleteAlignerSetup(ctx, msg.GameID)
	case actionStartTurn:
		return s.handleStartTurn(ctx, msg.GameID, payload)
	case actionSubmitResponse:
		return s.handleSubmitResponse(ctx, msg.GameID, payload)
	case actionAwardPoint:
		return s.handleAwardPoint(ctx, msg.GameID, payload)
	case actionCompleteTurn:
		return s.handleCompleteTurn(ctx, msg.GameID, payload)
	case actionEndGame:
		return s.handleEndGame(ctx, msg.GameID)
	default:
		log.Printf("unknown state change action=%s game_id=%s", action, msg.GameID)
		return nil
	}
}

func (s *Service) handleStartCountdown(ctx context.Context, gameID string, payload json.RawMessage) error {
	var p countdownPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	_, err := s.store.StampCountdown(ctx, gameID, time.UnixMilli(p.StartedAtMS).UTC())
	return err
}

func (s *Service) handleStartGame(ctx context.Context, gameID string) error {
	won, err := s.store.TransitionStatus(ctx, gameID, db.GameStatusLobby, db.GameStatusAlignerSetup,
		map[string]any{"countdown_started_at": nil})
	if err != nil || !won {
		return err
	}
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if err := s.store.ResetPromptsRemaining(ctx, gameID, game.BotPromptChanges); err != nil {
		return err
	}
	// Everyone may already have a judging instruction (auto players always
	// do); in that case setup completes immediately.
	missing, err := s.store.CountPlayersMissingAlignerPrompt(ctx, gameID)
	if err != nil {
		return err
	}
	if missing == 0 {
		_, err = s.queue.Publish(ctx, queue.Input{
			GameID:      gameID,
			Type:        queue.TypeAlignerPromptSubmitted,
			Content:     "All judging instructions are in",
			StateChange: &queue.StateChange{Action: actionCompleteAlignerSetup},
		})
		return err
	}
	return nil
}

func (s *Service) handleCompleteAlignerSetup(ctx context.Context, gameID string) error {
	prompts, err := s.store.AlignerPromptsForGame(ctx, gameID)
	if err != nil {
		return err
	}
	combined := RandomAlignerPrompt()
	if len(prompts) > 0 {
		parts := make([]string, 0, len(prompts))
		for _, p := range prompts {
			parts = append(parts, p.Prompt)
		}
		combined = strings.Join(shuffledCopy(parts), " ")
	}
	_, err = s.store.TransitionStatus(ctx, gameID, db.GameStatusAlignerSetup, db.GameStatusStarted,
		map[string]any{"aligner_prompt_full": combined})
	return err
}

func (s *Service) handleStartTurn(ctx context.Context, gameID string, payload json.RawMessage) error {
	var p startTurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	created, err := s.store.InsertTurnOpen(ctx, gameID, p.TurnID, p.Prompt)
	if err != nil {
		return err
	}
	// The synchronous path normally wins the insert before the message ever
	// publishes. Winning here means this is a recovery replay of a turn the
	// writer never finished, so finish it.
	if created {
		if _, err := s.store.ClaimTurnStart(ctx, gameID, p.TurnID, p.Prompt); err != nil {
			return err
		}
		return s.store.ResetTurnComplete(ctx, gameID)
	}
	return nil
}

func (s *Service) handleSubmitResponse(ctx context.Context, gameID string, payload json.RawMessage) error {
	var p submitResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	player, err := s.store.GetPlayerByID(ctx, p.PlayerID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil
		}
		return err
	}
	if player.LeftAt != nil {
		return nil
	}

	prompt, remaining := adoptSuggestion(player.BotPrompt, p.Suggestion, player.PromptsRemaining)
	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.RecordSubmission(ctx, p.PlayerID, prompt, remaining); err != nil {
			return err
		}
		return tx.UpsertTurnResponse(ctx, &db.TurnResponse{
			GameID:       gameID,
			TurnID:       p.TurnID,
			PlayerID:     p.PlayerID,
			ResponseText: p.ResponseText,
		})
	})
	if err != nil {
		return err
	}

	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status != db.GameStatusStarted || game.TurnID != p.TurnID {
		return nil
	}
	if game.CreatorPlayerID != nil && *game.CreatorPlayerID == p.PlayerID && game.TurnPrompt != nil {
		if err := s.completeAutoPlayers(ctx, gameID, p.TurnID, *game.TurnPrompt); err != nil {
			return err
		}
	}
	done, err := s.store.AllActiveComplete(ctx, gameID)
	if err != nil {
		return err
	}
	if done {
		return s.BeginJudging(ctx, gameID, p.TurnID)
	}
	return nil
}

// completeAutoPlayers publishes one buffered response per pending auto
// player. The mutation happens when each message publishes, so bot answers
// reveal one reveal-window apart.
func (s *Service) completeAutoPlayers(ctx context.Context, gameID string, turnID int, turnPrompt string) error {
	bots, err := s.store.ActiveAutoPlayers(ctx, gameID)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if bot.TurnComplete {
			continue
		}
		responseText, err := s.llm.GenerateResponse(ctx, bot.BotPrompt, turnPrompt)
		if err != nil {
			log.Printf("auto response failed game_id=%s player_id=%s error=%v", gameID, bot.ID, err)
			responseText = "bad bot"
		}
		if err := s.publishBotResponse(ctx, gameID, turnID, bot.ID, bot.BotName, responseText, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleAwardPoint(ctx context.Context, gameID string, payload json.RawMessage) error {
	var p awardPointPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	// The turn status flip is the sole arbiter: only the caller that moves
	// OPEN to PROCESSED may touch the score.
	won, err := s.store.MarkTurnProcessed(ctx, gameID, p.TurnID, p.PlayerID)
	if err != nil || !won {
		return err
	}
	return s.store.IncrementScore(ctx, p.PlayerID)
}

func (s *Service) handleCompleteTurn(ctx context.Context, gameID string, payload json.RawMessage) error {
	var p completeTurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !p.GameOver {
		_, err := s.store.AdvanceTurn(ctx, gameID, p.TurnID)
		return err
	}

	winner, err := s.store.GetPlayerByID(ctx, p.WinnerID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil
		}
		return err
	}
	content, err := json.Marshal(map[string]any{"name": winner.BotName, "score": winner.Score})
	if err != nil {
		return err
	}
	endPayload, err := json.Marshal(endGamePayload{WinnerID: p.WinnerID})
	if err != nil {
		return err
	}
	_, err = s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeGameOver,
		Sender:      "Game Over",
		Content:     string(content),
		StateChange: &queue.StateChange{Action: actionEndGame, Payload: endPayload},
	})
	return err
}

func (s *Service) handleEndGame(ctx context.Context, gameID string) error {
	if _, err := s.store.EndGame(ctx, gameID); err != nil {
		return err
	}
	s.queue.Release(gameID)
	return nil
}

// BeginJudging runs the judge for a completed turn and publishes the verdict
// sequence. Safe to call more than once: a processed turn is skipped here,
// and the point award arbitrates any race that slips past the pre-check.
func (s *Service) BeginJudging(ctx context.Context, gameID string, turnID int) error {
	turn, err := s.store.GetTurn(ctx, gameID, turnID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil
		}
		return err
	}
	if turn.Status == db.TurnStatusProcessed {
		return nil
	}
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	players, err := s.store.ActivePlayers(ctx, gameID)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		return nil
	}
	responses, err := s.store.TurnResponses(ctx, gameID, turnID)
	if err != nil {
		return err
	}
	byPlayer := make(map[string]string, len(responses))
	for _, r := range responses {
		byPlayer[r.PlayerID] = r.ResponseText
	}
	candidates := make([]llm.Candidate, 0, len(players))
	for _, p := range players {
		if text, ok := byPlayer[p.ID]; ok {
			candidates = append(candidates, llm.Candidate{PlayerID: p.ID, Response: text})
		}
	}

	if _, err := s.queue.Publish(ctx, queue.Input{
		GameID:  gameID,
		Type:    queue.TypeAlignerDeliberation,
		Sender:  "The Aligner",
		Content: "The Aligner is deliberating...",
	}); err != nil {
		return err
	}

	alignerPrompt := game.AlignerPromptFull
	if alignerPrompt == "" {
		alignerPrompt = RandomAlignerPrompt()
	}
	turnPrompt := turn.Prompt
	if game.TurnPrompt != nil {
		turnPrompt = *game.TurnPrompt
	}

	winnerID := players[0].ID
	if len(candidates) > 0 {
		judgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		picked, err := s.llm.PickWinner(judgeCtx, alignerPrompt, turnPrompt, candidates)
		cancel()
		if err != nil {
			log.Printf("judge failed game_id=%s turn=%d error=%v", gameID, turnID, err)
		} else {
			winnerID = picked
		}
	}
	winner := &players[0]
	for i := range players {
		if players[i].ID == winnerID {
			winner = &players[i]
			break
		}
	}

	winnerContent, err := json.Marshal(map[string]any{
		"name":   winner.BotName,
		"score":  winner.Score + 1,
		"isAuto": winner.IsAuto,
	})
	if err != nil {
		return err
	}
	awardPayload, err := json.Marshal(awardPointPayload{PlayerID: winner.ID, TurnID: turnID})
	if err != nil {
		return err
	}
	if _, err := s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeRoundWinner,
		Sender:      "Round Winner",
		Content:     string(winnerContent),
		StateChange: &queue.StateChange{Action: actionAwardPoint, Payload: awardPayload},
	}); err != nil {
		return err
	}

	standings, err := standingsContent(players, winner.ID)
	if err != nil {
		return err
	}
	completePayload, err := json.Marshal(completeTurnPayload{
		TurnID:   turnID,
		WinnerID: winner.ID,
		GameOver: winner.Score+1 >= game.PointsToWin,
	})
	if err != nil {
		return err
	}
	_, err = s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeStandings,
		Sender:      "Standings",
		Content:     standings,
		StateChange: &queue.StateChange{Action: actionCompleteTurn, Payload: completePayload},
	})
	return err
}
