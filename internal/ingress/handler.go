// Package ingress is the engine's HTTP+WebSocket command surface: every
// endpoint parses a request into a dispatch.Command and submits it to the
// Dispatcher, then renders whatever Result comes back. There is no
// authentication layer here — every route is open; deployments are
// expected to sit behind a private network or a reverse proxy that
// handles identity.
package ingress

import (
	"net/http"
	"time"

	"trading-core/internal/audit"
	"trading-core/internal/dispatch"
	"trading-core/internal/events"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the Dispatcher and the event bus.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus

	dispatcher *dispatch.Dispatcher
}

// NewServer builds a Server with the standard middleware stack and routes.
func NewServer(d *dispatch.Dispatcher, bus *events.Bus) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, Bus: bus, dispatcher: d}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/audit", s.auditFeed)
	s.Router.GET("/ws/triggers", s.triggerFeed)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/add", s.command(audit.CmdAdd))
		api.POST("/quote", s.command(audit.CmdQuote))
		api.POST("/buy", s.command(audit.CmdBuy))
		api.POST("/commit-buy", s.command(audit.CmdCommitBuy))
		api.POST("/cancel-buy", s.command(audit.CmdCancelBuy))
		api.POST("/sell", s.command(audit.CmdSell))
		api.POST("/commit-sell", s.command(audit.CmdCommitSell))
		api.POST("/cancel-sell", s.command(audit.CmdCancelSell))
		api.POST("/set-buy-amount", s.command(audit.CmdSetBuyAmount))
		api.POST("/set-buy-trigger", s.command(audit.CmdSetBuyTrigger))
		api.POST("/cancel-set-buy", s.command(audit.CmdCancelSetBuy))
		api.POST("/set-sell-amount", s.command(audit.CmdSetSellAmount))
		api.POST("/set-sell-trigger", s.command(audit.CmdSetSellTrigger))
		api.POST("/cancel-set-sell", s.command(audit.CmdCancelSetSell))
		api.POST("/dumplog", s.command(audit.CmdDumplog))
		api.GET("/summary", s.command(audit.CmdDisplaySummary))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// commandRequest is the JSON body every command endpoint accepts. Not every
// field applies to every command — e.g. DISPLAY_SUMMARY ignores Symbol and
// Amount entirely.
type commandRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Filename string `json:"filename"`
}

// command returns a gin handler that parses the request body into a
// dispatch.Command of the given type and submits it.
func (s *Server) command(cmdType audit.CommandType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req commandRequest
		if c.Request.Method == http.MethodGet {
			req.UserID = c.Query("userId")
			req.Symbol = c.Query("symbol")
		} else if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}

		cmd := dispatch.Command{
			UserID: req.UserID, Type: cmdType,
			Symbol: req.Symbol, Amount: req.Amount, Filename: req.Filename,
		}
		res, err := s.dispatcher.Submit(c.Request.Context(), cmd)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if !res.OK {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": res.Message})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": res.Message, "fields": res.Fields})
	}
}

// Start runs the server. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
