// Command seed creates time slots in the SQLite store: the slots section of
// the config, plus one slot given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

func main() {
	start := flag.String("start", "", "slot start, RFC 3339")
	duration := flag.Duration("duration", time.Hour, "slot length")
	desc := flag.String("desc", "", "slot description")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SLOTBOOK_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	slots := cfg.Slots
	if *start != "" {
		extra, err := slotFromFlags(*start, *duration, *desc)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid slot flags")
		}
		slots = append(slots, extra)
	}
	if len(slots) == 0 {
		logger.Info().Msg("nothing to seed")
		return
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx := context.Background()
	for _, sc := range slots {
		slot := &models.TimeSlot{StartTime: sc.Start, EndTime: sc.End, Description: sc.Description, Available: true}
		created, err := db.EnsureSlot(ctx, slot)
		if err != nil {
			logger.Error().Err(err).Str("description", sc.Description).Msg("seed failed")
			continue
		}
		logger.Info().
			Int64("slot_id", slot.ID).
			Bool("created", created).
			Time("start", slot.StartTime).
			Str("description", slot.Description).
			Msg("slot")
	}
}

func slotFromFlags(start string, d time.Duration, desc string) (config.SlotConfig, error) {
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return config.SlotConfig{}, fmt.Errorf("start: %w", err)
	}
	if d <= 0 {
		return config.SlotConfig{}, fmt.Errorf("duration must be positive")
	}
	if desc == "" {
		return config.SlotConfig{}, fmt.Errorf("desc is required")
	}
	return config.SlotConfig{Start: t, End: t.Add(d), Description: desc}, nil
}
