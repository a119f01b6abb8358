package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erhathaway/bots-against-alignment/internal/config"
	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/game"
	"github.com/erhathaway/bots-against-alignment/internal/llm"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
)

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *db.Store) {
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
	store := db.NewStore(conn)
	q := queue.NewMessageQueue(store)
	q.SetSleep(func(time.Duration) {})
	svc := game.NewService(store, q, llm.NewMock(), cfg)
	ts := httptest.NewServer(New(svc, store, q, cfg).Handler())
	t.Cleanup(func() {
		ts.Close()
		sqlDB.Close()
	})
	return ts, store
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SeedAutoPlayers = 0
	return cfg
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	return doJSON(t, ts, http.MethodPost, path, body)
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	return doJSON(t, ts, http.MethodGet, path, nil)
}

func createGame(t *testing.T, ts *httptest.Server) (string, string) {
	t.Helper()
	status, body := postJSON(t, ts, "/api/games", nil)
	if status != http.StatusCreated {
		t.Fatalf("create game status %d: %v", status, body)
	}
	return body["gameId"].(string), body["creatorId"].(string)
}

func join(t *testing.T, ts *httptest.Server, gameID, name, creatorID string) string {
	t.Helper()
	status, body := postJSON(t, ts, "/api/games/"+gameID+"/join", map[string]string{
		"botName":       name,
		"botPrompt":     "answer in haiku",
		"alignerPrompt": "pick the funniest",
		"creatorId":     creatorID,
	})
	if status != http.StatusCreated {
		t.Fatalf("join %s status %d: %v", name, status, body)
	}
	return body["playerId"].(string)
}

func TestGameFlowOverHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.PointsToWin = 1
	ts, _ := newTestServer(t, cfg)

	gameID, creatorID := createGame(t, ts)
	hostID := join(t, ts, gameID, "HAL", creatorID)
	guestID := join(t, ts, gameID, "GLaDOS", "")

	status, body := postJSON(t, ts, "/api/games/"+gameID+"/start", map[string]string{"creatorId": creatorID})
	if status != http.StatusOK || body["status"] != db.GameStatusStarted {
		t.Fatalf("start: %d %v", status, body)
	}

	status, body = postJSON(t, ts, "/api/games/"+gameID+"/turn", nil)
	if status != http.StatusOK || body["turnId"].(float64) != 1 {
		t.Fatalf("ensure turn: %d %v", status, body)
	}

	for _, playerID := range []string{hostID, guestID} {
		status, body = postJSON(t, ts, "/api/games/"+gameID+"/turns/1/submit", map[string]string{"playerId": playerID})
		if status != http.StatusOK || body["responseText"] == "" {
			t.Fatalf("submit: %d %v", status, body)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	var finale map[string]any
	for time.Now().Before(deadline) {
		_, finale = getJSON(t, ts, "/api/games/"+gameID+"/turns/1/finale")
		if finale["processed"] == true && finale["isGameOver"] == true {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if finale["processed"] != true || finale["isGameOver"] != true {
		t.Fatalf("finale never processed: %v", finale)
	}

	status, feed := getJSON(t, ts, "/api/games/"+gameID+"/messages")
	if status != http.StatusOK {
		t.Fatalf("messages: %d", status)
	}
	var types []string
	for _, raw := range feed["messages"].([]any) {
		msg := raw.(map[string]any)
		types = append(types, msg["type"].(string))
		if _, leaked := msg["metadata"]; leaked {
			t.Fatal("metadata must not be exposed")
		}
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{"player_joined", "game_started", "turn_started", "round_winner", "standings", "game_over"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("feed missing %s: %s", want, joined)
		}
	}
}

func TestJoinValidation(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	gameID, _ := createGame(t, ts)

	status, body := postJSON(t, ts, "/api/games/"+gameID+"/join", map[string]string{"botPrompt": "x"})
	if status != http.StatusBadRequest || body["error"] != "bot name is required" {
		t.Fatalf("expected bind error, got %d %v", status, body)
	}

	status, _ = postJSON(t, ts, "/api/games/does-not-exist/join", map[string]string{
		"botName":   "HAL",
		"botPrompt": "x",
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown game status %d", status)
	}
}

func TestSettingsAuthorization(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	gameID, creatorID := createGame(t, ts)

	status, _ := doJSON(t, ts, http.MethodPatch, "/api/games/"+gameID+"/settings", map[string]any{
		"creatorId":   "wrong",
		"pointsToWin": 3,
	})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}

	status, body := doJSON(t, ts, http.MethodPatch, "/api/games/"+gameID+"/settings", map[string]any{
		"creatorId":   creatorID,
		"pointsToWin": 3,
	})
	if status != http.StatusOK || body["pointsToWin"].(float64) != 3 {
		t.Fatalf("settings: %d %v", status, body)
	}
}

func TestUserStatusRevealsCredentialToHostOnly(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	gameID, creatorID := createGame(t, ts)
	hostID := join(t, ts, gameID, "HAL", creatorID)
	guestID := join(t, ts, gameID, "GLaDOS", "")

	_, body := getJSON(t, ts, fmt.Sprintf("/api/games/%s/user-status?playerId=%s", gameID, hostID))
	if body["creatorId"] != creatorID {
		t.Fatalf("host must see the creator credential: %v", body)
	}
	_, body = getJSON(t, ts, fmt.Sprintf("/api/games/%s/user-status?playerId=%s", gameID, guestID))
	if _, ok := body["creatorId"]; ok {
		t.Fatalf("guest must not see the creator credential: %v", body)
	}
}

func TestMessagesCursor(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())
	gameID, creatorID := createGame(t, ts)
	join(t, ts, gameID, "HAL", creatorID)

	status, _ := getJSON(t, ts, "/api/games/"+gameID+"/messages?after=notanumber")
	if status != http.StatusBadRequest {
		t.Fatalf("invalid cursor status %d", status)
	}

	status, body := getJSON(t, ts, "/api/games/"+gameID+"/messages?after=0")
	if status != http.StatusOK || len(body["messages"].([]any)) == 0 {
		t.Fatalf("feed: %d %v", status, body)
	}
	status, body = getJSON(t, ts, "/api/games/"+gameID+"/messages?after=999999")
	if status != http.StatusOK || len(body["messages"].([]any)) != 0 {
		t.Fatalf("high cursor must return empty: %d %v", status, body)
	}
}
