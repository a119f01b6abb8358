package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/erhathaway/bots-against-alignment/internal/config"
	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/game"
	"github.com/erhathaway/bots-against-alignment/internal/llm"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
	"github.com/erhathaway/bots-against-alignment/internal/server"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	conn, err := db.Open(db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	store := db.NewStore(conn)
	q := queue.NewMessageQueue(store)
	svc := game.NewService(store, q, newLLMClient(cfg), cfg)
	srv := server.New(svc, store, q, cfg)

	ctx := context.Background()
	if err := q.RecoverAll(ctx); err != nil {
		log.Printf("message recovery failed: %v", err)
	}
	go runCountdownSweeper(ctx, svc, cfg)

	addr := ":8080"
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}
	log.Printf("bots-against-alignment server listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}

func newLLMClient(cfg config.Config) llm.Client {
	if cfg.LLMMock || cfg.OpenAIAPIKey == "" {
		if cfg.OpenAIAPIKey == "" && !cfg.LLMMock {
			log.Println("OPENAI_API_KEY is not set, using mock llm client")
		}
		return llm.NewMock()
	}
	return llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBotModel, cfg.OpenAIAlignerModel)
}

// runCountdownSweeper force-starts games whose lobby countdown has expired,
// covering countdowns that outlive the process that started them.
func runCountdownSweeper(ctx context.Context, svc *game.Service, cfg config.Config) {
	ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.SweepExpiredCountdowns(ctx)
		}
	}
}
