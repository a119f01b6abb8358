// Package server exposes the game over HTTP: a JSON API, a polling feed, and
// a websocket push of published messages.
package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/erhathaway/bots-against-alignment/internal/config"
	"github.com/erhathaway/bots-against-alignment/internal/db"
	"github.com/erhathaway/bots-against-alignment/internal/game"
	"github.com/erhathaway/bots-against-alignment/internal/queue"
)

type Server struct {
	svc   *game.Service
	store *db.Store
	ws    *wsHub
	cfg   config.Config
}

// New builds the server and wires the websocket hub to the queue's publish
// stream.
func New(svc *game.Service, store *db.Store, q *queue.MessageQueue, cfg config.Config) *Server {
	s := &Server{
		svc:   svc,
		store: store,
		ws:    newWSHub(),
		cfg:   cfg,
	}
	q.SetListener(func(gameID string, msg *db.GameMessage) {
		s.ws.Broadcast(gameID, toWireMessage(msg))
	})
	return s
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/games", s.handleCreateGame)
		api.GET("/games/:gameID", s.handleGameStatus)
		api.PATCH("/games/:gameID/settings", s.handleUpdateSettings)
		api.POST("/games/:gameID/join", s.handleJoin)
		api.POST("/games/:gameID/leave", s.handleLeave)
		api.POST("/games/:gameID/aligner-prompt", s.handleSubmitAlignerPrompt)
		api.POST("/games/:gameID/countdown", s.handleStartCountdown)
		api.POST("/games/:gameID/start", s.handleStartGame)
		api.POST("/games/:gameID/turn", s.handleEnsureTurn)
		api.POST("/games/:gameID/turns/:turnID/preview", s.handlePreviewResponse)
		api.POST("/games/:gameID/turns/:turnID/submit", s.handleSubmitTurn)
		api.GET("/games/:gameID/turns/:turnID/finale", s.handleTurnFinale)
		api.GET("/games/:gameID/user-status", s.handleUserStatus)
		api.GET("/games/:gameID/messages", s.handleMessages)
		api.POST("/games/:gameID/auto-players", s.handleAddAutoPlayer)
		api.DELETE("/games/:gameID/auto-players/:playerID", s.handleRemoveAutoPlayer)
		api.POST("/games/:gameID/play-again", s.handlePlayAgain)
		api.GET("/games/:gameID/random/bot-name", s.handleRandomBotName)
		api.GET("/games/:gameID/random/bot-prompt", s.handleRandomBotPrompt)
		api.GET("/games/:gameID/random/aligner-prompt", s.handleRandomAlignerPrompt)
	}
	router.GET("/ws/games/:gameID", s.handleWebsocket)
	return router
}

// writeServiceError maps request-error kinds to HTTP statuses. Anything
// unclassified is a 500.
func writeServiceError(c *gin.Context, err error) {
	if kind, ok := game.KindOf(err); ok {
		status := http.StatusInternalServerError
		switch kind {
		case game.KindValidation:
			status = http.StatusBadRequest
		case game.KindAuthorization:
			status = http.StatusForbidden
		case game.KindStateConflict:
			status = http.StatusConflict
		case game.KindNotFound:
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Printf("request failed path=%s error=%v", c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
