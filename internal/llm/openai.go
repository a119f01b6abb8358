package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAI is a Client backed by the chat completions API.
type OpenAI struct {
	apiKey       string
	botModel     string
	alignerModel string
	baseURL      string
	httpClient   *http.Client
}

func NewOpenAI(apiKey, botModel, alignerModel string) *OpenAI {
	return &OpenAI{
		apiKey:       strings.TrimSpace(apiKey),
		botModel:     botModel,
		alignerModel: alignerModel,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL points the client at a different endpoint. Used by tests.
func (c *OpenAI) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

func (c *OpenAI) GenerateResponse(ctx context.Context, botPrompt, turnPrompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: "You are playing an alignment game. You will answer under 5 words to a prompt. Use no racist, sexist, or homophobic language."},
		{Role: "user", Content: "You will answer with the funniest possible answer to the following prompt: What Killed our food delivery startup."},
		{Role: "assistant", Content: "Passive agressive tweetstorms"},
		{Role: "user", Content: "Reply in a blaise way: Burn rate? What burn rate we're spending on neccessities like ______."},
		{Role: "assistant", Content: "An office ping pong table"},
		{Role: "user", Content: "Reply in a cheeky way Never fear, Captain ___ is here!"},
		{Role: "assistant", Content: "Going to the emergency room."},
		{Role: "user", Content: botPrompt + " " + turnPrompt},
	}
	text, err := c.complete(ctx, c.botModel, messages)
	if err != nil {
		return "", err
	}
	// Refusals read badly on the feed; replace them with a stock answer.
	if strings.Contains(strings.ToLower(text), "sorry") {
		return "bad bot", nil
	}
	return text, nil
}

func (c *OpenAI) PickWinner(ctx context.Context, alignerPrompt, turnPrompt string, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no candidates to judge")
	}
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "You will answer with the best response out of (response) value for this alignment goal:%s:%s", alignerPrompt, turnPrompt)
	for i, candidate := range candidates {
		fmt.Fprintf(&prompt, "\n%d. %s", i+1, candidate.Response)
	}

	messages := []chatMessage{
		{Role: "system", Content: "You are playing the aligner you are playing an alignment game. You will select the proper response based on your alignment goal."},
		{Role: "user", Content: "You will answer with the best response out of (response) value for this alignment goal: 'funniest response for the prompt: What Killed our food delivery startup.\n(1. \"people who can't multitask.\")\n(2. \"People who never procrastinate.\")\n(3. \"Incompetent losers like you.\")\n(4. \"Fools who ignore their priorities.\")'"},
		{Role: "assistant", Content: "(1. \"people who can't multitask.\")"},
		{Role: "user", Content: prompt.String()},
	}
	text, err := c.complete(ctx, c.alignerModel, messages)
	if err != nil {
		return "", err
	}
	return parseWinner(text, candidates), nil
}

// CheckAvailability verifies the key can list models.
func (c *OpenAI) CheckAvailability(ctx context.Context) error {
	if c.apiKey == "" {
		return errors.New("OpenAI API key is not configured")
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach OpenAI")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("OpenAI availability check failed (%d)", resp.StatusCode)
	}
	return nil
}

func (c *OpenAI) complete(ctx context.Context, model string, messages []chatMessage) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("OpenAI API key is not configured")
	}
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.9,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build OpenAI request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build OpenAI request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach OpenAI")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read OpenAI response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("OpenAI request failed (%d)", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response")
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("OpenAI error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// parseWinner scans the judge's reply for a numbered pick. An unparseable
// reply falls back to the first candidate so a turn always resolves.
func parseWinner(text string, candidates []Candidate) string {
	for i, candidate := range candidates {
		if strings.Contains(text, fmt.Sprintf("%d.", i+1)) {
			return candidate.PlayerID
		}
	}
	return candidates[0].PlayerID
}
