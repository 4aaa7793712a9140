package bot

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix            = "/api"
	apiPathHealth        = "/health"
	apiPathBackendHealth = "/backend/health"
	apiPathStatus        = "/status"
	pprofPrefix          = "/debug"

	backendHealthProbeTimeout = 5 * time.Second
)

// API is the local read-only status server: liveness, a backend health
// passthrough and runtime counters. It carries no authentication and
// should only listen on loopback or an internal interface.
type API struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *APIConfig
	logger     *slog.Logger
	bot        *LeagueBot
	listener   net.Listener
}

func newAPI(b *LeagueBot, config *APIConfig) (*API, error) {
	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	api := &API{
		engine: r,
		config: config,
		bot:    b,
		logger: newTintLogger(config.LogLevel, "api"),
	}

	r.Use(gin.Recovery())
	r.Use(cors.New(config.CORS.GINConfig()))
	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	group := r.Group(apiPrefix)
	group.GET(apiPathHealth, api.getHealth)
	group.GET(apiPathBackendHealth, api.getBackendHealth)
	group.GET(apiPathStatus, api.getStatus)

	api.httpServer = &http.Server{
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return api, nil
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	)
}

func (a *API) getBackendHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(
		c.Request.Context(),
		backendHealthProbeTimeout,
	)
	defer cancel()

	health, err := a.bot.backend.Health(ctx)
	if err != nil {
		c.JSON(
			http.StatusBadGateway, gin.H{
				"status":         "unreachable",
				"error":          err.Error(),
				"classification": string(classifyError(err)),
			},
		)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (a *API) getStatus(c *gin.Context) {
	d := a.bot.discord
	dispatcher := a.bot.dispatcher
	sync := a.bot.guildSync
	c.JSON(
		http.StatusOK, gin.H{
			"version":          Version,
			"commit":           CommitSHA,
			"connected":        d.connected.Load(),
			"uptime_seconds":   int(time.Since(a.bot.startedAt).Seconds()),
			"interactions":     d.metricInteractions.Load(),
			"connects":         d.metricConnects.Load(),
			"disconnects":      d.metricDisconnects.Load(),
			"commands_ok":      dispatcher.metricExecuted.Load(),
			"commands_denied":  dispatcher.metricDenied.Load(),
			"commands_failed":  dispatcher.metricFailed.Load(),
			"guilds_synced":    sync.metricSynced.Load(),
			"guild_sync_fails": sync.metricFailed.Load(),
			"cooldown_entries": a.bot.cooldowns.size(),
		},
	)
}

// Serve starts listening and blocks until the server stops.
func (a *API) Serve(ctx context.Context) error {
	network := a.config.ListenNetwork
	if network == "" {
		network = defaultListenNetwork
	}
	listener, err := net.Listen(network, a.config.Listen)
	if err != nil {
		return err
	}
	a.listener = listener
	a.logger.Info("status API listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()

	if serveErr := a.httpServer.Serve(listener); serveErr != nil &&
		serveErr != http.ErrServerClosed {
		return serveErr
	}
	return nil
}

// Shutdown gracefully stops the server.
func (a *API) Shutdown(ctx context.Context) {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("error shutting down status API", tint.Err(err))
	}
}
