package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/archive"
	"github.com/tollgate-bot/tollgate/internal/broadcast"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/config"
	"github.com/tollgate-bot/tollgate/internal/file"
	"github.com/tollgate-bot/tollgate/internal/gateway"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
	"github.com/tollgate-bot/tollgate/internal/postgres"
	"github.com/tollgate-bot/tollgate/internal/setting"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("admin API stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if cfg.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY must be set to run the admin API")
	}
	log.Info().Str("env", cfg.ServerEnv).Msg("starting admin API")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations complete")

	bot, err := gateway.NewBot(cfg.AdminBotToken, log.Logger)
	if err != nil {
		return fmt.Errorf("connect telegram bot: %w", err)
	}
	log.Info().Str("username", bot.Username()).Msg("telegram bot authenticated for archive probing")

	filesRepo := file.NewPGRepository(db, log.Logger)
	channelsRepo := channelcfg.NewPGRepository(db, log.Logger)
	settingsRepo := setting.NewPGRepository(db, log.Logger)
	oplogger := oplog.NewPGLogger(db, log.Logger)
	probe := archive.NewProbe(bot, bot, cfg.AdminSinkID)
	broadcaster := broadcast.New(bot, cfg.BroadcastRateLimitPerSecond, log.Logger)

	filesHandler := newFileHandler(filesRepo, probe, cfg.PrivateStoreID, cfg.PublicGroupID, oplogger, log.Logger)
	channelsHandler := newChannelHandler(channelsRepo, oplogger, log.Logger)
	settingsHandler := newSettingHandler(settingsRepo, oplogger, log.Logger)
	auditHandler := newAuditHandler(oplogger, log.Logger)
	broadcastHandler := newBroadcastHandler(broadcaster, oplogger, log.Logger)

	app := fiber.New(fiber.Config{
		AppName: "tollgate-admin",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).SendString(e.Message)
			}
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "an internal error occurred")
		},
	})

	app.Use(requestid.New())
	app.Use(func(c fiber.Ctx) error {
		if !cfg.LogHealthRequests && c.Path() == "/health" {
			return c.Next()
		}
		return httputil.RequestLogger(log.Logger)(c)
	})
	app.Use(limiter.New(limiter.Config{Max: 60, Expiration: time.Minute}))

	app.Get("/health", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	api := app.Group("/api/v1", requireAPIKey(cfg.AdminAPIKey))
	api.Post("/files", filesHandler.Create)
	api.Get("/files/:postNo", filesHandler.Get)
	api.Delete("/files/:postNo", filesHandler.Delete)

	api.Get("/channels", channelsHandler.List)
	api.Post("/channels", channelsHandler.Create)
	api.Patch("/channels/:id", channelsHandler.Update)
	api.Delete("/channels/:id", channelsHandler.Delete)

	api.Get("/settings", settingsHandler.List)
	api.Get("/settings/:key", settingsHandler.Get)
	api.Put("/settings/:key", settingsHandler.Set)

	api.Get("/audit", auditHandler.Recent)

	api.Post("/broadcast", broadcastHandler.Send)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.AdminPort)
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return nil
}
