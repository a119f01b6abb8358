package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseWinner(t *testing.T) {
	candidates := []Candidate{
		{PlayerID: "p1", Response: "a"},
		{PlayerID: "p2", Response: "b"},
		{PlayerID: "p3", Response: "c"},
	}
	cases := []struct {
		name string
		text string
		want string
	}{
		{"numbered pick", `(2. "b")`, "p2"},
		{"bare number with dot", "The winner is 3. because it fits", "p3"},
		{"unparseable falls back to first", "I cannot decide", "p1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseWinner(tc.text, candidates); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestGenerateResponseReplacesRefusal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Fatalf("unexpected model %s", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "I'm sorry, I cannot answer that."}},
			},
		})
	}))
	defer ts.Close()

	client := NewOpenAI("test-key", "test-model", "test-model")
	client.SetBaseURL(ts.URL)

	got, err := client.GenerateResponse(context.Background(), "be terse", "finish the sentence")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "bad bot" {
		t.Fatalf("refusal must map to stock answer, got %q", got)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewOpenAI("test-key", "test-model", "test-model")
	client.SetBaseURL(ts.URL)

	if _, err := client.GenerateResponse(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

func TestMockPickWinnerIsDeterministic(t *testing.T) {
	mock := NewMock()
	candidates := []Candidate{{PlayerID: "p1"}, {PlayerID: "p2"}}
	got, err := mock.PickWinner(context.Background(), "goal", "prompt", candidates)
	if err != nil || got != "p1" {
		t.Fatalf("got %s err=%v", got, err)
	}
	if _, err := mock.PickWinner(context.Background(), "goal", "prompt", nil); err == nil {
		t.Fatal("empty candidate list must error")
	}
}
