package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/erhathaway/bots-against-alignment/internal/db"
)

// wireMessage is the external shape of a published message. Metadata stays
// internal.
type wireMessage struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toWireMessage(msg *db.GameMessage) wireMessage {
	out := wireMessage{
		ID:        msg.ID,
		Type:      msg.Type,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if msg.SenderName != nil {
		out.Sender = *msg.SenderName
	}
	return out
}

// handleMessages serves the polling feed: published rows past the cursor, in
// publish order.
func (s *Server) handleMessages(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		after = parsed
	}
	msgs, err := s.store.PublishedMessagesAfter(c.Request.Context(), c.Param("gameID"), uint(after))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]wireMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, toWireMessage(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
