// Package api provides the local HTTP REST API of an LSNP node
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/network"
)

var log = logging.Logger("lsnp/api")

// Server represents the HTTP API server of one peer
type Server struct {
	peer       *network.Peer
	hub        *network.Hub
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	startedAt  time.Time
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates the API for a peer. Notifications published on hub are
// streamed to websocket clients.
func NewServer(peer *network.Peer, hub *network.Hub, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		peer:      peer,
		hub:       hub,
		router:    router,
		config:    config,
		startedAt: time.Now(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		node := v1.Group("/node")
		{
			node.GET("/info", s.handleNodeInfo)
			node.GET("/stats", s.handleNodeStats)
			node.PUT("/status", s.handleSetStatus)
			node.POST("/ping", s.handlePing)
		}

		v1.GET("/peers", s.handlePeers)
		v1.GET("/peers/:userId", s.handlePeer)
		v1.GET("/followers", s.handleFollowers)
		v1.GET("/following", s.handleFollowing)
		v1.POST("/following", s.handleFollow)
		v1.DELETE("/following/:userId", s.handleUnfollow)

		v1.GET("/posts", s.handleListPosts)
		v1.POST("/posts", s.handleCreatePost)
		v1.POST("/likes", s.handleLike)
		v1.GET("/search", s.handleSearch)

		v1.POST("/messages", s.handleSendDM)
		v1.GET("/conversations", s.handleConversations)
		v1.GET("/conversations/:userId", s.handleConversation)

		groups := v1.Group("/groups")
		{
			groups.GET("", s.handleListGroups)
			groups.POST("", s.handleCreateGroup)
			groups.GET("/:groupId", s.handleGetGroup)
			groups.POST("/:groupId/members", s.handleUpdateGroup)
			groups.GET("/:groupId/messages", s.handleGroupMessages)
			groups.POST("/:groupId/messages", s.handleSendGroupMessage)
		}

		files := v1.Group("/files")
		{
			files.GET("", s.handleListFiles)
			files.POST("", s.handleOfferFile)
			files.POST("/:fileId/accept", s.handleAcceptFile)
			files.DELETE("/:fileId", s.handleDeclineFile)
			files.GET("/received", s.handleReceivedFiles)
		}

		games := v1.Group("/games")
		{
			games.GET("", s.handleListGames)
			games.POST("", s.handleInviteGame)
			games.GET("/:gameId", s.handleGetGame)
			games.POST("/:gameId/accept", s.handleAcceptGame)
			games.POST("/:gameId/moves", s.handleMove)
			games.POST("/:gameId/forfeit", s.handleForfeit)
		}

		v1.GET("/events", s.handleEvents)
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
