package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/channels"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/db"
	"github.com/router-for-me/GeminiDrawer/internal/executor"
	"github.com/router-for-me/GeminiDrawer/internal/host"
	"github.com/router-for-me/GeminiDrawer/internal/http/api/admin"
	"github.com/router-for-me/GeminiDrawer/internal/http/api/front"
	"github.com/router-for-me/GeminiDrawer/internal/keystore"
	"github.com/router-for-me/GeminiDrawer/internal/planner"
	"github.com/router-for-me/GeminiDrawer/internal/prompts"
	"github.com/router-for-me/GeminiDrawer/internal/ratelimit"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
	"github.com/router-for-me/GeminiDrawer/internal/translator"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPort     = 8318
	shutdownTimeout = 10 * time.Second
)

// LegacyPaths points at the JSON files of a pre-database installation.
type LegacyPaths struct {
	Keys string
	Data string
}

// Services holds the wired components behind the HTTP surfaces.
type Services struct {
	Keys     *keystore.Store
	Channels *channels.Registry
	Prompts  *prompts.Store
	Planner  *planner.Planner
	Executor *executor.Executor
	Recorder *usage.Recorder
	Limiter  *ratelimit.Manager
	Sender   host.Sender
}

// Migrate opens the database, runs migrations and optionally imports legacy JSON files.
func Migrate(ctx context.Context, appCfg config.AppConfig, legacy LegacyPaths) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
	if errLoad != nil {
		return errLoad
	}
	configureLogging(cfg)
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if strings.TrimSpace(legacy.Keys) == "" && strings.TrimSpace(legacy.Data) == "" {
		log.Info("migration completed")
		return nil
	}
	report, errImport := db.ImportLegacy(ctx, conn, legacy.Keys, legacy.Data)
	if errImport != nil {
		return errImport
	}
	log.WithFields(log.Fields{
		"keys":       report.Keys,
		"prompts":    report.Prompts,
		"channels":   report.Channels,
		"moved_keys": report.MovedKeys,
	}).Info("legacy import completed")
	return nil
}

// RunServer boots the drawer API and blocks until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	configureLogging(cfg)
	if !ConfigExists(configPath) {
		log.Warnf("config file %s not found, using defaults", configPath)
	}

	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errRefresh := internalsettings.Refresh(ctx, conn); errRefresh != nil {
		return errRefresh
	}
	internalsettings.StartRefresher(ctx, conn, internalsettings.DefaultRefreshInterval*time.Second)

	engine, _ := BuildEngine(conn, cfg)

	if cfg.Port > 0 {
		port = cfg.Port
	}
	if port <= 0 {
		port = defaultPort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting drawer on %s with config=%s", srv.Addr, configPath)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	log.Info("drawer stopped")
	return nil
}

// BuildEngine wires the stores, planner, executor and HTTP routes on conn.
func BuildEngine(conn *gorm.DB, cfg *config.Config) (*gin.Engine, *Services) {
	services := NewServices(conn, cfg)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:       conn,
		Config:   cfg,
		Keys:     services.Keys,
		Channels: services.Channels,
		Prompts:  services.Prompts,
		Recorder: services.Recorder,
	})
	front.RegisterFrontRoutes(engine, front.Deps{
		Config:    cfg,
		Generator: services.Executor,
		Presets:   services.Prompts,
		Limiter:   services.Limiter,
		Recorder:  services.Recorder,
		Sender:    services.Sender,
		Fetcher:   host.DownloadFetcher(cfg.ProxyURL()),
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine, services
}

// NewServices constructs the domain components shared by both APIs.
func NewServices(conn *gorm.DB, cfg *config.Config) *Services {
	keys := keystore.NewStore(conn)
	registry := channels.NewRegistry(conn)
	plan := planner.New(keys, registry, plannerSettings(cfg))
	services := &Services{
		Keys:     keys,
		Channels: registry,
		Prompts:  prompts.NewStore(conn),
		Planner:  plan,
		Executor: executor.New(plan, keys, executorOptions(cfg)),
		Recorder: usage.NewRecorder(conn),
		Limiter:  ratelimit.NewManager(ratelimit.NewSettingsProvider(cfg.RateLimit), nil, nil),
	}
	if strings.TrimSpace(cfg.OneBot.URL) != "" {
		services.Sender = host.NewOneBotSender(cfg.OneBot, nil)
	}
	return services
}

func plannerSettings(cfg *config.Config) planner.SettingsProvider {
	return func() planner.Settings {
		return planner.Settings{
			RelayEnabled:  internalsettings.RelayEnabled(cfg),
			RelayURL:      cfg.Relay.URL,
			RelayKey:      cfg.Relay.Key,
			GoogleEnabled: internalsettings.GoogleEnabled(cfg),
			GoogleURL:     cfg.Google.URL,
		}
	}
}

func executorOptions(cfg *config.Config) executor.Options {
	return executor.Options{
		Models: translator.Options{
			RelayModel:   cfg.Relay.Model,
			DefaultModel: cfg.DefaultModel,
		},
		ProxyURL:       cfg.ProxyURL(),
		RequestTimeout: cfg.Timeouts.Request,
		StreamTimeout:  cfg.Timeouts.Stream,
		VideoTimeout:   cfg.Timeouts.Video,
		AttemptDelay:   cfg.AttemptDelay,
		PollInterval:   cfg.Video.PollInterval,
		MaxPolls:       cfg.Video.MaxPolls,
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	if summary, errSummary := describeDSN(cfg.DatabaseDSN); errSummary == nil {
		log.WithFields(summary.fields()).Info("database ready")
	}
	return conn, nil
}

func configureLogging(cfg *config.Config) {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "json") {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// requestLogger logs each request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("http request")
	}
}
