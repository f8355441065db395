// Command export writes the users, time_slots and bookings tables to an
// Excel workbook and optionally sends it to the staff Telegram chats.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotbook/internal/audit"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/notify"

	"github.com/rs/zerolog"
)

func main() {
	outDir := flag.String("out", "data/exports", "directory for the workbook")
	send := flag.Bool("telegram", false, "send the workbook to telegram.chat_ids")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SLOTBOOK_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Database.Driver != config.DriverSQLite {
		logger.Fatal().Str("driver", cfg.Database.Driver).Msg("export needs the sqlite store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	path, summary, err := audit.NewExporter(db, &logger).ExportToFile(ctx, *outDir, time.Now())
	if err != nil {
		logger.Fatal().Err(err).Msg("export failed")
	}
	logger.Info().Str("path", path).Interface("rows", summary.Tables).Msg("export complete")

	if !*send {
		return
	}
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ChatIDs) == 0 {
		logger.Fatal().Msg("set telegram.bot_token and telegram.chat_ids in config")
	}
	bot, err := notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}
	n := notify.New(bot, notify.Config{ChatIDs: cfg.Telegram.ChatIDs}, &logger)
	if err := n.SendDocument(ctx, path, "slotbook audit "+time.Now().Format("2006-01-02")); err != nil {
		logger.Fatal().Err(err).Msg("send export failed")
	}
	logger.Info().Int("chats", len(cfg.Telegram.ChatIDs)).Msg("export sent")
}
