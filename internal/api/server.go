package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/dashboard"
	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/db"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	intnet "github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/util"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// commandTimeout bounds how long a handler waits for the game loop.
const commandTimeout = 5 * time.Second

// IncidentLog is the read side of the incident table.
type IncidentLog interface {
	Incidents(kind string, limit int) ([]db.Incident, error)
	Incident(id string) (db.Incident, bool, error)
}

// Deps are the optional collaborators of the API. Nil members disable
// the routes that need them.
type Deps struct {
	Bans      session.BanStore
	Incidents IncidentLog
	Lag       *netgame.LagMonitor
}

// Server is the REST API of a running game host.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	host     *netgame.Host
	deps     Deps
	stream   *streamHub

	httpServer *http.Server
	router     *gin.Engine
	logger     zerolog.Logger
}

// NewServer creates the API for host.
func NewServer(cfg *config.Config, eventBus *events.EventBus, host *netgame.Host, deps Deps) *Server {
	if cfg.ApplicationData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		host:     host,
		deps:     deps,
		stream:   newStreamHub(eventBus),
		logger:   util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	app := s.cfg.GetApplicationData()
	addr := fmt.Sprintf(":%d", app.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.stream.close()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	app := s.cfg.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := app.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression, ginGzip.WithExcludedPaths([]string{streamPath})))
	router.Use(NewRateLimiter(app.API.RateLimitRPS, app.API.RateLimitBurst).Middleware())

	public := router.Group("/api/v1")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api/v1")
	protected.Use(TokenAuth(s.cfg))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/players", s.handlePlayers)
		protected.GET("/players/:slot", s.handlePlayer)
		protected.GET("/nodes", s.handleNodes)
		protected.GET("/lag", s.handleLag)
		protected.GET("/lag/alerts", s.handleLagAlerts)
		protected.GET("/lag/:slot", s.handlePlayerLag)
		protected.GET("/bans", s.handleBans)
		protected.GET("/incidents", s.handleIncidents)
		protected.GET("/incidents/:id", s.handleIncident)
		protected.GET("/system", s.handleSystem)
		protected.GET("/events/ws", s.handleEventStream)

		protected.POST("/players/:slot/kick", s.handleKick)
		protected.POST("/players/:slot/ban", s.handleBanPlayer)
		protected.POST("/players/:slot/admin", s.handleAdmin)
		protected.POST("/bans", s.handleAddBan)
		protected.DELETE("/bans", s.handleRemoveBan)
		protected.POST("/say", s.handleSay)
		protected.POST("/shutdown", s.handleShutdown)

		protected.GET("/config", s.handleGetConfig)
		protected.PATCH("/config/net", s.handleSetNetField)
	}

	// The status page is a single file; every other non-API path falls
	// back to it.
	page := http.FS(dashboard.FS())
	router.GET("/", func(c *gin.Context) { c.FileFromFS("/", page) })
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.FileFromFS("/", page)
	})

	return router
}

// do runs fn on the game loop and waits for it.
func (s *Server) do(c *gin.Context, fn func(*netgame.Host) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	return s.host.Do(ctx, fn)
}
