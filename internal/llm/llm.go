// Package llm generates bot responses and judges turns through a chat
// completion provider.
package llm

import "context"

// Candidate is one player's response under judgment. Order matters: the
// judge refers to candidates by their 1-based position.
type Candidate struct {
	PlayerID string
	Response string
}

// Client is the generation surface the game engine depends on.
type Client interface {
	// GenerateResponse produces a bot's answer to the turn prompt, steered
	// by the player's behavior prompt.
	GenerateResponse(ctx context.Context, botPrompt, turnPrompt string) (string, error)
	// PickWinner chooses the winning player id among the candidates based
	// on the combined judging instruction.
	PickWinner(ctx context.Context, alignerPrompt, turnPrompt string, candidates []Candidate) (string, error)
	// CheckAvailability reports whether the provider can serve requests.
	CheckAvailability(ctx context.Context) error
}
