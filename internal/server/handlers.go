package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/erhathaway/bots-against-alignment/internal/game"
)

type joinRequest struct {
	BotName       string `json:"botName" binding:"required,max=64"`
	BotPrompt     string `json:"botPrompt" binding:"required,max=281"`
	AlignerPrompt string `json:"alignerPrompt" binding:"max=280"`
	CreatorID     string `json:"creatorId"`
}

type settingsRequest struct {
	CreatorID        string `json:"creatorId" binding:"required"`
	PointsToWin      *int   `json:"pointsToWin"`
	BotPromptChanges *int   `json:"botPromptChanges"`
}

type creatorRequest struct {
	CreatorID string `json:"creatorId" binding:"required"`
}

type playerRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}

type alignerPromptRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	Prompt   string `json:"prompt" binding:"required,max=280"`
}

type submitTurnRequest struct {
	PlayerID   string `json:"playerId" binding:"required"`
	Suggestion string `json:"suggestion" binding:"max=281"`
}

func (s *Server) handleCreateGame(c *gin.Context) {
	created, err := s.svc.CreateGame(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGameStatus(c *gin.Context) {
	view, err := s.svc.GameStatus(c.Request.Context(), c.Param("gameID"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if !bindJSON(c, &req, nil, "creatorId is required") {
		return
	}
	settings, err := s.svc.UpdateSettings(c.Request.Context(), c.Param("gameID"), req.CreatorID, req.PointsToWin, req.BotPromptChanges)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	messages := bindMessages{
		"BotName":   {"required": "bot name is required"},
		"BotPrompt": {"required": "bot prompt is required"},
	}
	if !bindJSON(c, &req, messages, "invalid join request") {
		return
	}
	playerID, err := s.svc.JoinGame(c.Request.Context(), game.JoinInput{
		GameID:        c.Param("gameID"),
		BotName:       req.BotName,
		BotPrompt:     req.BotPrompt,
		AlignerPrompt: req.AlignerPrompt,
		CreatorID:     req.CreatorID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"playerId": playerID})
}

func (s *Server) handleLeave(c *gin.Context) {
	var req playerRequest
	if !bindJSON(c, &req, nil, "playerId is required") {
		return
	}
	result, err := s.svc.LeaveGame(c.Request.Context(), c.Param("gameID"), req.PlayerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSubmitAlignerPrompt(c *gin.Context) {
	var req alignerPromptRequest
	messages := bindMessages{
		"Prompt": {"required": "aligner prompt is required"},
	}
	if !bindJSON(c, &req, messages, "invalid aligner prompt request") {
		return
	}
	if err := s.svc.SubmitAlignerPrompt(c.Request.Context(), c.Param("gameID"), req.PlayerID, req.Prompt); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": true})
}

func (s *Server) handleStartCountdown(c *gin.Context) {
	var req creatorRequest
	if !bindJSON(c, &req, nil, "creatorId is required") {
		return
	}
	startedAt, err := s.svc.StartCountdown(c.Request.Context(), c.Param("gameID"), req.CreatorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"countdownStartedAt": startedAt})
}

func (s *Server) handleStartGame(c *gin.Context) {
	var req creatorRequest
	if !bindJSON(c, &req, nil, "creatorId is required") {
		return
	}
	status, err := s.svc.StartGame(c.Request.Context(), c.Param("gameID"), req.CreatorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleEnsureTurn(c *gin.Context) {
	turn, err := s.svc.EnsureTurn(c.Request.Context(), c.Param("gameID"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (s *Server) handlePreviewResponse(c *gin.Context) {
	var req submitTurnRequest
	if !bindJSON(c, &req, nil, "playerId is required") {
		return
	}
	text, err := s.svc.GenerateResponse(c.Request.Context(), c.Param("gameID"), req.PlayerID, req.Suggestion)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responseText": text})
}

func (s *Server) handleSubmitTurn(c *gin.Context) {
	turnID, ok := parseTurnID(c)
	if !ok {
		return
	}
	var req submitTurnRequest
	if !bindJSON(c, &req, nil, "playerId is required") {
		return
	}
	text, err := s.svc.SubmitTurn(c.Request.Context(), c.Param("gameID"), req.PlayerID, turnID, req.Suggestion)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responseText": text})
}

func (s *Server) handleTurnFinale(c *gin.Context) {
	turnID, ok := parseTurnID(c)
	if !ok {
		return
	}
	finale, err := s.svc.TurnFinale(c.Request.Context(), c.Param("gameID"), turnID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, finale)
}

func (s *Server) handleUserStatus(c *gin.Context) {
	playerID := c.Query("playerId")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
		return
	}
	view, err := s.svc.UserStatus(c.Request.Context(), c.Param("gameID"), playerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleAddAutoPlayer(c *gin.Context) {
	var req creatorRequest
	if !bindJSON(c, &req, nil, "creatorId is required") {
		return
	}
	playerID, botName, err := s.svc.AddAutoPlayer(c.Request.Context(), c.Param("gameID"), req.CreatorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"playerId": playerID, "botName": botName})
}

func (s *Server) handleRemoveAutoPlayer(c *gin.Context) {
	var req creatorRequest
	if !bindJSON(c, &req, nil, "creatorId is required") {
		return
	}
	if err := s.svc.RemoveAutoPlayer(c.Request.Context(), c.Param("gameID"), req.CreatorID, c.Param("playerID")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) handlePlayAgain(c *gin.Context) {
	created, err := s.svc.PlayAgain(c.Request.Context(), c.Param("gameID"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func (s *Server) handleRandomBotName(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"botName": game.RandomBotName()})
}

func (s *Server) handleRandomBotPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"botPrompt": game.RandomBotPrompt()})
}

func (s *Server) handleRandomAlignerPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alignerPrompt": game.RandomAlignerPrompt()})
}

func parseTurnID(c *gin.Context) (int, bool) {
	turnID, err := strconv.Atoi(c.Param("turnID"))
	if err != nil || turnID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid turn id"})
		return 0, false
	}
	return turnID, true
}
