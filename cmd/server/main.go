package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"slotbook/internal/auth"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/notify"
	"slotbook/internal/ops"
	"slotbook/internal/repository"
	"slotbook/internal/reservation"
	"slotbook/internal/server"
	"slotbook/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// store is what the server needs from either backend.
type store interface {
	reservation.Store
	auth.UserStore
	EnsureSlot(ctx context.Context, s *models.TimeSlot) (bool, error)
}

func main() {
	cfg, err := config.Load(os.Getenv("SLOTBOOK_CONFIG"))
	if err != nil {
		bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	var (
		st     store
		checks []ops.Check
		db     *database.DB
	)
	switch cfg.Database.Driver {
	case config.DriverMemory:
		st = repository.NewMemoryStore()
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		var err error
		db, err = database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		st = db
		checks = append(checks, ops.Check{Name: "database", Ping: db.Ping})
	}

	if err := seedSlots(ctx, st, cfg.Slots, logger); err != nil {
		return err
	}

	limiter, rdb := newLimiter(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer repository.Close(rdb)
		checks = append(checks, ops.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return repository.Ping(ctx, rdb)
		}})
	}

	authService, err := auth.NewService(st, limiter, auth.Options{
		BcryptCost:        cfg.Auth.BcryptCost,
		MaxFailedLogins:   cfg.Auth.MaxFailedLogins,
		FailedLoginWindow: cfg.FailedLoginWindow(),
	}, logger)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	bus := events.NewEventBus(logger)
	notifier := newNotifier(cfg.Telegram, bus, logger)

	coordinator := reservation.NewCoordinator(st, bus, logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	srv := server.New(session.Deps{
		Reservations: coordinator,
		Auth:         authService,
	}, session.Config{
		RequireLogin:      cfg.Session.RequireLogin,
		IdleTimeout:       cfg.IdleTimeout(),
		CommandsPerSecond: cfg.Session.CommandsPerSecond,
		CommandBurst:      cfg.Session.CommandBurst,
		MaxFrameBytes:     cfg.Server.MaxFrameBytes,
		WelcomeMessage:    cfg.Session.WelcomeMessage,
	}, logger)

	opsServer := ops.New(ops.Config{
		HTTPAddr: portAddr(cfg.Monitoring.HealthCheckPort),
		GRPCAddr: portAddr(cfg.Monitoring.GRPCHealthPort),
		Metrics:  cfg.Monitoring.PrometheusEnabled,
	}, checks, srv.Registry(), logger)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(gctx, ln)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Dur("timeout", cfg.ShutdownTimeout()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("sessions force-closed")
		}
		return nil
	})

	if cfg.Monitoring.HealthCheckPort != 0 || cfg.Monitoring.GRPCHealthPort != 0 {
		g.Go(func() error {
			return opsServer.ListenAndServe(gctx)
		})
	}

	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(gctx)
		})
	}

	if db != nil && cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, logger)
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("store", cfg.Database.Driver).
		Bool("require_login", cfg.Session.RequireLogin).
		Msg("Booking server started")

	return g.Wait()
}

func seedSlots(ctx context.Context, st store, slots []config.SlotConfig, logger *zerolog.Logger) error {
	created := 0
	for _, sc := range slots {
		slot := &models.TimeSlot{
			StartTime:   sc.Start,
			EndTime:     sc.End,
			Description: sc.Description,
			Available:   true,
		}
		ok, err := st.EnsureSlot(ctx, slot)
		if err != nil {
			return fmt.Errorf("seed slot %q: %w", sc.Description, err)
		}
		if ok {
			created++
		}
	}
	logger.Info().Int("configured", len(slots)).Int("created", created).Msg("slots seeded")
	return nil
}

// newLimiter prefers Redis and falls back to process memory when Redis is
// unset or unreachable.
func newLimiter(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) (repository.Limiter, *redis.Client) {
	memory := repository.NewMemoryLimiter()
	if cfg.Address == "" {
		logger.Info().Msg("redis not configured, login throttling is per process")
		return memory, nil
	}

	rdb := repository.NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, rdb); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Address).Msg("redis unavailable at startup, using failover limiter")
	}
	return repository.NewFailoverLimiter(repository.NewRedisLimiter(rdb), memory, logger), rdb
}

func newNotifier(cfg config.TelegramConfig, bus *events.EventBus, logger *zerolog.Logger) *notify.Notifier {
	if cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		return nil
	}
	bot, err := notify.NewTelegramSender(cfg.BotToken, cfg.Debug)
	if err != nil {
		logger.Error().Err(err).Msg("telegram notifications disabled")
		return nil
	}
	n := notify.New(bot, notify.Config{ChatIDs: cfg.ChatIDs}, logger)
	n.Attach(bus)
	return n
}

func portAddr(port int) string {
	if port == 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
