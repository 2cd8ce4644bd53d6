package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cardassist/internal/domain"
	"cardassist/internal/orchestrator"
)

// Chatter produces a reply for one user message given the session history.
type Chatter interface {
	Chat(ctx context.Context, message string, history []domain.ChatMessage) orchestrator.Result
}

// Pinger reports whether a backing component is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the HTTP layer to the rest of the system. History, Finder and
// the pingers may be nil; the matching endpoints then report the component
// as not configured instead of failing.
type Deps struct {
	Orchestrator Chatter
	History      domain.History
	Finder       domain.TransactionFinder
	Redis        Pinger
	Database     Pinger
	NumChunks    func() int
	Log          *logrus.Logger
}

// Server is the JSON API in front of the orchestrator.
type Server struct {
	orch      Chatter
	history   domain.History
	finder    domain.TransactionFinder
	redis     Pinger
	db        Pinger
	numChunks func() int

	engine *gin.Engine
	http   *http.Server
	log    *logrus.Logger
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	s := &Server{
		orch:      deps.Orchestrator,
		history:   deps.History,
		finder:    deps.Finder,
		redis:     deps.Redis,
		db:        deps.Database,
		numChunks: deps.NumChunks,
		log:       deps.Log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.root)
	api := r.Group("/api")
	api.POST("/chat", s.chat)
	api.GET("/history/:session_id", s.getHistory)
	api.DELETE("/history/:session_id", s.clearHistory)
	api.GET("/database", s.recentTransactions)
	api.GET("/health", s.healthCheck)

	s.engine = r
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.WithField("addr", addr).Info("starting http server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		}).Info("request")
	}
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "RuPay assistant API",
		"health":  "/api/health",
	})
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
}

// chat runs one conversational turn. A missing session_id starts a fresh
// session; history failures degrade to a stateless exchange rather than an
// error.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx := c.Request.Context()

	var history []domain.ChatMessage
	if s.history != nil {
		msgs, err := s.history.Messages(ctx, sessionID)
		if err != nil {
			s.log.WithError(err).Warn("session history unavailable, replying without it")
		} else {
			history = msgs
		}
	}

	res := s.orch.Chat(ctx, req.Message, history)

	if s.history != nil {
		turn := []domain.ChatMessage{
			{Role: domain.RoleUser, Content: req.Message},
			{Role: domain.RoleAssistant, Content: res.Reply},
		}
		for _, msg := range turn {
			if err := s.history.Append(ctx, sessionID, msg); err != nil {
				s.log.WithError(err).Warn("failed to persist chat turn")
				break
			}
		}
	}

	c.JSON(http.StatusOK, chatResponse{Reply: res.Reply, SessionID: sessionID, Target: res.Target})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store not configured"})
		return
	}
	sessionID := c.Param("session_id")
	msgs, err := s.history.Messages(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": msgs})
}

func (s *Server) clearHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store not configured"})
		return
	}
	sessionID := c.Param("session_id")
	if err := s.history.Clear(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "cleared": true})
}

// recentTransactions feeds the demo dashboard the latest activity. Key names
// follow what the frontend table expects.
func (s *Server) recentTransactions(c *gin.Context) {
	if s.finder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transaction database not configured"})
		return
	}
	txns, err := s.finder.Recent(c.Request.Context(), 15)
	if err != nil {
		s.log.WithError(err).Error("recent transactions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := make([]gin.H, 0, len(txns))
	for _, tx := range txns {
		records = append(records, gin.H{
			"rrn":           tx.RRN,
			"date_and_time": tx.Timestamp.Format("2006-01-02 15:04:05"),
			"amount":        tx.Amount,
			"card_number":   tx.CardNumber,
			"reason_code":   tx.ReasonCode,
			"merchant":      tx.Merchant,
			"bank_name":     tx.BankName,
			"card_type":     tx.CardType,
			"txn_type":      tx.TxnType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// healthCheck reports per-component status. Components that were never
// configured do not fail the check; a configured component that stops
// answering does.
func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	components := gin.H{}
	healthy := true

	ping := func(name string, p Pinger) {
		if p == nil {
			components[name] = "not_configured"
			return
		}
		if err := p.Ping(ctx); err != nil {
			components[name] = "unreachable"
			healthy = false
			return
		}
		components[name] = "ok"
	}
	ping("redis", s.redis)
	ping("database", s.db)

	if s.numChunks != nil {
		components["index"] = fmt.Sprintf("%d chunks", s.numChunks())
	} else {
		components["index"] = "not_configured"
	}
	if s.orch != nil {
		components["model"] = "ready"
	} else {
		components["model"] = "not_configured"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}
