// Package notify forwards booking events to staff Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Subscriber is the part of the event bus the notifier needs.
type Subscriber interface {
	Subscribe(eventType string, handler events.EventHandler)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

type Config struct {
	ChatIDs []int64
	// QueueSize bounds pending messages; events beyond it are dropped.
	QueueSize int
	// MessagesPerSecond is shared across all chats.
	MessagesPerSecond float64
	Retry             RetryConfig
}

type message struct {
	chatID int64
	text   string
}

// Notifier queues one message per chat for every booking event and sends
// them from Run. Publishing never blocks on Telegram.
type Notifier struct {
	sender  TelegramSender
	cfg     Config
	queue   chan message
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(sender TelegramSender, cfg Config, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 20
	}
	if cfg.Retry.MaxRetries == 0 && len(cfg.Retry.RetryDelays) == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Notifier{
		sender:  sender,
		cfg:     cfg,
		queue:   make(chan message, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// NewTelegramSender connects to the Bot API.
func NewTelegramSender(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// Attach subscribes the notifier to booking events.
func (n *Notifier) Attach(bus Subscriber) {
	bus.Subscribe(events.TypeBookingCreated, n.handle)
	bus.Subscribe(events.TypeBookingCancelled, n.handle)
}

func (n *Notifier) handle(ev events.Event) error {
	var p events.BookingPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	text := FormatEvent(ev.Type, p)

	for _, chatID := range n.cfg.ChatIDs {
		select {
		case n.queue <- message{chatID: chatID, text: text}:
		default:
			metrics.IncNotification("dropped")
			n.logger.Warn().Int64("chat_id", chatID).Str("type", ev.Type).Msg("notification queue full, dropping")
		}
	}
	return nil
}

// Run sends queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info().Int("chats", len(n.cfg.ChatIDs)).Msg("Notifier started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := n.sendWithRetry(ctx, tgbotapi.NewMessage(msg.chatID, msg.text)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				metrics.IncNotification("failed")
				n.logger.Error().Err(err).Int64("chat_id", msg.chatID).Msg("notification failed")
				continue
			}
			metrics.IncNotification("sent")
		}
	}
}

// SendDocument uploads the file at path to every chat, synchronously.
func (n *Notifier) SendDocument(ctx context.Context, path, caption string) error {
	var errs []error
	for _, chatID := range n.cfg.ChatIDs {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
		doc.Caption = caption
		if err := n.sendWithRetry(ctx, doc); err != nil {
			metrics.IncNotification("failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		metrics.IncNotification("sent")
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendWithRetry(ctx context.Context, c tgbotapi.Chattable) error {
	delays := n.cfg.Retry.RetryDelays
	var lastErr error

	for attempt := 0; attempt <= n.cfg.Retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := delayFor(delays, attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case 400, 403:
				return err
			}
		}

		if attempt == n.cfg.Retry.MaxRetries {
			break
		}
		n.logger.Info().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("retrying notification")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func delayFor(delays []time.Duration, attempt int) time.Duration {
	if len(delays) == 0 {
		return time.Second
	}
	if attempt < len(delays) {
		return delays[attempt]
	}
	return delays[len(delays)-1]
}

// FormatEvent renders the staff message for one event.
func FormatEvent(evType string, p events.BookingPayload) string {
	var title string
	switch evType {
	case events.TypeBookingCreated:
		title = "New booking"
	case events.TypeBookingCancelled:
		title = "Booking cancelled"
	default:
		title = evType
	}
	return fmt.Sprintf("%s #%d\nSlot: %s (#%d)\nTime: %s - %s\nClient: %s",
		title, p.BookingID,
		p.SlotDescription, p.SlotID,
		p.SlotStart.Format("2006-01-02 15:04"), p.SlotEnd.Format("15:04"),
		p.Owner)
}
