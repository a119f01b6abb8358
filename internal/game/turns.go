package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
)

type TurnInfo struct {
	TurnID int    `json:"turnId"`
	Prompt string `json:"alignmentPrompt"`
}

// EnsureTurn returns the current turn, minting it if nobody has yet. The
// claim on the turn flag decides which concurrent caller creates it; losers
// re-read what the winner wrote.
func (s *Service) EnsureTurn(ctx context.Context, gameID string) (*TurnInfo, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != db.GameStatusStarted {
		return nil, Conflictf("game not started")
	}

	if !game.TurnStarted {
		prompt := RandomTurnPrompt()
		var won bool
		err = s.store.Transaction(ctx, func(tx *db.Store) error {
			won, err = tx.ClaimTurnStart(ctx, gameID, game.TurnID, prompt)
			if err != nil || !won {
				return err
			}
			if _, err := tx.InsertTurnOpen(ctx, gameID, game.TurnID, prompt); err != nil {
				return err
			}
			return tx.ResetTurnComplete(ctx, gameID)
		})
		if err != nil {
			return nil, err
		}
		if won {
			payload, err := json.Marshal(startTurnPayload{TurnID: game.TurnID, Prompt: prompt})
			if err != nil {
				return nil, err
			}
			if _, err := s.queue.Publish(ctx, queue.Input{
				GameID:      gameID,
				Type:        queue.TypeTurnStarted,
				Sender:      "Turn Prompt",
				Content:     prompt,
				StateChange: &queue.StateChange{Action: actionStartTurn, Payload: payload},
			}); err != nil {
				return nil, err
			}
			return &TurnInfo{TurnID: game.TurnID, Prompt: prompt}, nil
		}
	}

	fresh, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if fresh.TurnPrompt != nil {
		return &TurnInfo{TurnID: fresh.TurnID, Prompt: *fresh.TurnPrompt}, nil
	}
	turn, err := s.store.GetTurn(ctx, gameID, fresh.TurnID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, Conflictf("turn not initialized")
		}
		return nil, err
	}
	return &TurnInfo{TurnID: fresh.TurnID, Prompt: turn.Prompt}, nil
}

// adoptSuggestion applies the prompt-edit rules: a non-empty suggestion that
// differs from the current prompt consumes one remaining edit.
func adoptSuggestion(current, suggestion string, remaining int) (string, int) {
	trimmed := strings.TrimSpace(suggestion)
	if trimmed != "" && trimmed != strings.TrimSpace(current) && remaining > 0 {
		return truncate(suggestion, maxBotPromptLength), remaining - 1
	}
	return current, remaining
}

// GenerateResponse previews what the player's bot would answer. Nothing is
// persisted.
func (s *Service) GenerateResponse(ctx context.Context, gameID, playerID, suggestion string) (string, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	if game.TurnPrompt == nil {
		return "", Conflictf("turn not initialized")
	}
	player, err := s.requireActivePlayer(ctx, gameID, playerID)
	if err != nil {
		return "", err
	}
	prompt, _ := adoptSuggestion(player.BotPrompt, suggestion, player.PromptsRemaining)
	return s.llm.GenerateResponse(ctx, prompt, *game.TurnPrompt)
}

// SubmitTurn records the player's response for the current turn. The write
// happens synchronously; the announcement queues behind the reveal windows
// and its state change re-checks turn progress when it publishes.
func (s *Service) SubmitTurn(ctx context.Context, gameID, playerID string, turnID int, suggestion string) (string, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	if game.TurnID != turnID {
		return "", NotFoundf("turn not found")
	}
	if game.TurnPrompt == nil {
		return "", Conflictf("turn not initialized")
	}
	player, err := s.requireActivePlayer(ctx, gameID, playerID)
	if err != nil {
		return "", err
	}

	prompt, remaining := adoptSuggestion(player.BotPrompt, suggestion, player.PromptsRemaining)
	responseText, err := s.llm.GenerateResponse(ctx, prompt, *game.TurnPrompt)
	if err != nil {
		return "", err
	}

	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.RecordSubmission(ctx, playerID, prompt, remaining); err != nil {
			return err
		}
		return tx.UpsertTurnResponse(ctx, &db.TurnResponse{
			GameID:       gameID,
			TurnID:       turnID,
			PlayerID:     playerID,
			ResponseText: responseText,
		})
	})
	if err != nil {
		return "", err
	}

	// The payload carries the prompt in effect, not the raw suggestion, so a
	// replay of this message cannot consume a second edit.
	if err := s.publishBotResponse(ctx, gameID, turnID, player.ID, player.BotName, responseText, prompt); err != nil {
		return "", err
	}
	go s.tryAutoProcess(gameID)
	return responseText, nil
}

func (s *Service) publishBotResponse(ctx context.Context, gameID string, turnID int, playerID, botName, responseText, suggestion string) error {
	content, err := json.Marshal(map[string]string{"name": botName, "text": responseText})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(submitResponsePayload{
		PlayerID:     playerID,
		TurnID:       turnID,
		ResponseText: responseText,
		Suggestion:   suggestion,
	})
	if err != nil {
		return err
	}
	_, err = s.queue.Publish(ctx, queue.Input{
		GameID:      gameID,
		Type:        queue.TypeBotResponse,
		Sender:      "Bot Response",
		Content:     string(content),
		StateChange: &queue.StateChange{Action: actionSubmitResponse, Payload: payload},
	})
	return err
}

// tryAutoProcess kicks judging when every active player has completed the
// turn. Fire and forget; judging itself is re-entrant.
func (s *Service) tryAutoProcess(gameID string) {
	ctx := context.Background()
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		if err != db.ErrNotFound {
			log.Printf("auto process lookup failed game_id=%s error=%v", gameID, err)
		}
		return
	}
	if game.Status != db.GameStatusStarted || !game.TurnStarted {
		return
	}
	done, err := s.store.AllActiveComplete(ctx, gameID)
	if err != nil {
		log.Printf("auto process check failed game_id=%s error=%v", gameID, err)
		return
	}
	if !done {
		return
	}
	if err := s.BeginJudging(ctx, gameID, game.TurnID); err != nil {
		log.Printf("auto process judging failed game_id=%s turn=%d error=%v", gameID, game.TurnID, err)
	}
}

type FinaleResponse struct {
	PlayerID       string `json:"playerId"`
	Name           string `json:"name"`
	Text           string `json:"text"`
	Score          int    `json:"score"`
	IsRoundWinner  bool   `json:"isRoundWinner"`
	IsGlobalWinner bool   `json:"isGlobalWinner"`
}

type FinaleView struct {
	BotsSubmitted int              `json:"botsSubmitted"`
	TotalBots     int              `json:"totalBots"`
	Processed     bool             `json:"processed"`
	Responses     []FinaleResponse `json:"alignmentResponses,omitempty"`
	GameOver      bool             `json:"isGameOver"`
}

// TurnFinale reports turn progress, and once judged, the full scoreboard for
// the round.
func (s *Service) TurnFinale(ctx context.Context, gameID string, turnID int) (*FinaleView, error) {
	game, err := s.requireGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ActivePlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	view := &FinaleView{TotalBots: len(players)}
	for _, p := range players {
		if p.TurnComplete {
			view.BotsSubmitted++
		}
	}

	turn, err := s.store.GetTurn(ctx, gameID, turnID)
	if err != nil {
		if err == db.ErrNotFound {
			return view, nil
		}
		return nil, err
	}
	if turn.Status != db.TurnStatusProcessed {
		return view, nil
	}

	responses, err := s.store.TurnResponses(ctx, gameID, turnID)
	if err != nil {
		return nil, err
	}
	byPlayer := make(map[string]string, len(responses))
	for _, r := range responses {
		byPlayer[r.PlayerID] = r.ResponseText
	}

	view.Processed = true
	view.GameOver = game.Status == db.GameStatusEnded
	view.Responses = make([]FinaleResponse, 0, len(players))
	for _, p := range players {
		view.Responses = append(view.Responses, FinaleResponse{
			PlayerID:       p.ID,
			Name:           p.BotName,
			Text:           byPlayer[p.ID],
			Score:          p.Score,
			IsRoundWinner:  turn.WinnerPlayerID != nil && *turn.WinnerPlayerID == p.ID,
			IsGlobalWinner: p.Score >= game.PointsToWin,
		})
	}
	return view, nil
}

func standingsContent(players []db.Player, winnerID string) (string, error) {
	type entry struct {
		Name   string `json:"name"`
		Score  int    `json:"score"`
		IsAuto bool   `json:"isAuto"`
	}
	entries := make([]entry, 0, len(players))
	for _, p := range players {
		score := p.Score
		if p.ID == winnerID {
			score++
		}
		entries = append(entries, entry{Name: p.BotName, Score: score, IsAuto: p.IsAuto})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal standings: %w", err)
	}
	return string(raw), nil
}
