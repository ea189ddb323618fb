package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/minicodex/internal/history"
	"github.com/zulandar/minicodex/internal/models"
)

// sessionView is one row of GET /api/sessions.
type sessionView struct {
	Key          string    `json:"key"`
	SessionID    string    `json:"session_id"`
	LastActiveAt time.Time `json:"last_active_at"`
	Active       bool      `json:"active"`
}

// turnView is one row of GET /api/turns.
type turnView struct {
	TurnID          string    `json:"turn_id"`
	ConversationKey string    `json:"conversation_key"`
	Platform        string    `json:"platform"`
	ChannelID       string    `json:"channel_id"`
	UserName        string    `json:"user_name"`
	Mode            string    `json:"mode"`
	SessionID       string    `json:"session_id,omitempty"`
	ExitCode        int       `json:"exit_code"`
	TimedOut        bool      `json:"timed_out"`
	DurationMs      int64     `json:"duration_ms"`
	ReplyChars      int       `json:"reply_chars"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth)
	router.GET("/api/sessions", handleSessions(opts))
	router.GET("/api/turns", handleTurns(opts.Turns))
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleSessions(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := opts.Now()
		entries := opts.Sessions.Entries()
		views := make([]sessionView, 0, len(entries))
		for _, e := range entries {
			views = append(views, sessionView{
				Key:          e.Key,
				SessionID:    e.SessionID,
				LastActiveAt: e.LastActiveAt.UTC(),
				Active:       e.Active(now, opts.TTL),
			})
		}
		c.JSON(http.StatusOK, views)
	}
}

func handleTurns(turns TurnSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if turns == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "turn history is disabled"})
			return
		}

		limit := history.DefaultRecentLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = n
		}

		rows, err := turns.Recent(c.Request.Context(), history.ClampLimit(limit))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]turnView, 0, len(rows))
		for _, t := range rows {
			views = append(views, newTurnView(t))
		}
		c.JSON(http.StatusOK, views)
	}
}

func newTurnView(t models.Turn) turnView {
	return turnView{
		TurnID:          t.TurnID,
		ConversationKey: t.ConversationKey,
		Platform:        t.Platform,
		ChannelID:       t.ChannelID,
		UserName:        t.UserName,
		Mode:            t.Mode,
		SessionID:       t.SessionID,
		ExitCode:        t.ExitCode,
		TimedOut:        t.TimedOut,
		DurationMs:      t.DurationMs,
		ReplyChars:      t.ReplyChars,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt.UTC(),
	}
}
