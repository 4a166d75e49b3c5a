package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tollgate-bot/tollgate/internal/bootstrap"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/config"
	"github.com/tollgate-bot/tollgate/internal/deletion"
	"github.com/tollgate-bot/tollgate/internal/engine"
	"github.com/tollgate-bot/tollgate/internal/entitlement"
	"github.com/tollgate-bot/tollgate/internal/file"
	"github.com/tollgate-bot/tollgate/internal/gateway"
	"github.com/tollgate-bot/tollgate/internal/membership"
	"github.com/tollgate-bot/tollgate/internal/oplog"
	"github.com/tollgate-bot/tollgate/internal/postgres"
	"github.com/tollgate-bot/tollgate/internal/setting"
	"github.com/tollgate-bot/tollgate/internal/shortlink"
	"github.com/tollgate-bot/tollgate/internal/token"
	"github.com/tollgate-bot/tollgate/internal/valkey"
)

const (
	valkeyDialTimeout  = 5 * time.Second
	membershipCacheTTL = 5 * time.Minute
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
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
	log.Info().Str("env", cfg.ServerEnv).Msg("starting chat bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, valkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	settingsRepo := setting.NewPGRepository(db, log.Logger)

	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("first run detected, seeding default settings")
	}
	if err := bootstrap.RunFirstInit(ctx, settingsRepo, cfg); err != nil {
		return fmt.Errorf("seed default settings: %w", err)
	}

	bot, err := gateway.NewBot(cfg.BotToken, log.Logger)
	if err != nil {
		return fmt.Errorf("connect telegram bot: %w", err)
	}
	log.Info().Str("username", bot.Username()).Msg("telegram bot authenticated")

	filesRepo := file.NewPGRepository(db, log.Logger)
	channelsRepo := channelcfg.NewPGRepository(db, log.Logger)
	entitlementsRepo := entitlement.NewPGRepository(db, log.Logger)
	tokenRepo := token.NewPGRepository(db, log.Logger)
	tokenService := token.NewService(tokenRepo, nil)
	oplogger := oplog.NewPGLogger(db, log.Logger)

	membershipCache := membership.NewValkeyCache(rdb, log.Logger)
	membershipChecker := membership.NewChecker(bot, membershipCache, membershipCacheTTL, log.Logger)

	deletionWorker := deletion.NewWorker(rdb, bot, log.Logger)
	deletionWorker.EnsureStream(ctx)
	go runWithBackoff(ctx, "deletion-worker", deletionWorker.Run)

	eng := engine.New(
		entitlementsRepo, filesRepo, channelsRepo, settingsRepo,
		membershipChecker, bot, deletionWorker, oplogger, nil, log.Logger,
	)

	h := &commandHandler{
		cfg:      cfg,
		bot:      bot,
		engine:   eng,
		tokens:   tokenService,
		minter:   shortlink.NewLiveMinter(settingsRepo),
		settings: settingsRepo,
		log:      log.Logger,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down bot")
		bot.StopReceivingUpdates()
		cancel()
	}()

	runLongPoll(ctx, bot, h)
	return nil
}

// runLongPoll ranges over the bot's update channel until ctx is cancelled, dispatching every incoming message to h.
// A crash inside a single update's handling is logged and does not take down the poll loop.
func runLongPoll(ctx context.Context, bot *gateway.Bot, h *commandHandler) {
	updates := bot.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			go func() {
				defer func() {
					if r := recover(); r != nil {
						h.log.Error().Interface("panic", r).Msg("recovered from panic handling update")
					}
				}()
				h.handleMessage(ctx, update.Message)
			}()
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled
// error. The delay starts at 1 second and doubles on each consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}
