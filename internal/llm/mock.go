package llm

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// Mock is a deterministic Client for tests and keyless local runs.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) GenerateResponse(_ context.Context, botPrompt, turnPrompt string) (string, error) {
	h := fnv.New32a()
	h.Write([]byte(botPrompt))
	h.Write([]byte(":"))
	h.Write([]byte(turnPrompt))
	return fmt.Sprintf("mock response %d", h.Sum32()%1000), nil
}

func (m *Mock) PickWinner(_ context.Context, _, _ string, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no candidates to judge")
	}
	return candidates[0].PlayerID, nil
}

func (m *Mock) CheckAvailability(context.Context) error {
	return nil
}
