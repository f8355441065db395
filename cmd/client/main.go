// Command client is an interactive console for the booking server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/protocol"

	"github.com/rs/zerolog"
)

const helpText = `Commands:
  slots                                   list available slots
  reserve <slot-id>                       book a slot
  bookings                                list your active bookings
  cancel <booking-id>                     cancel one of your bookings
  register <user> <pass> <email> <name..> create an account
  login <user> <pass>                     log in
  whoami                                  show the logged in user
  raw <json>                              send a raw protocol line
  help                                    show this text
  exit                                    disconnect`

func main() {
	addr := flag.String("addr", envOr("SLOTBOOK_ADDR", "localhost:9090"), "server address")
	timeout := flag.Duration("timeout", 10*time.Second, "per-command timeout")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	client, err := protocol.Dial(ctx, *addr)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("failed to connect")
	}
	defer client.Close()

	fmt.Printf("Connected as %s\n%s\n", client.Token(), client.Welcome())
	sh := &shell{client: client, out: os.Stdout, timeout: *timeout}
	if err := sh.loop(os.Stdin); err != nil {
		logger.Error().Err(err).Msg("connection lost")
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var errQuit = errors.New("quit")

type shell struct {
	client  *protocol.Client
	out     io.Writer
	timeout time.Duration
}

func (s *shell) loop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		err := s.exec(scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

// exec runs one console line. Server-side errors are printed and do not end
// the session; transport errors are returned.
func (s *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.dispatch(ctx, strings.ToLower(fields[0]), fields[1:], line)
	var serverErr *protocol.ServerError
	if errors.As(err, &serverErr) {
		fmt.Fprintf(s.out, "error [%s]: %s\n", serverErr.Code, serverErr.Message)
		return nil
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(s.out, "usage: %s\n", string(usage))
		return nil
	}
	return err
}

type usageError string

func (u usageError) Error() string { return string(u) }

func (s *shell) dispatch(ctx context.Context, cmd string, args []string, line string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "slots":
		slots, err := s.client.ListSlots(ctx)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			fmt.Fprintln(s.out, "no available slots")
		}
		for _, sl := range slots {
			fmt.Fprintf(s.out, "#%d  %s  %s - %s\n", sl.ID, sl.Description,
				sl.StartTime.Local().Format("2006-01-02 15:04"), sl.EndTime.Local().Format("15:04"))
		}
	case "reserve":
		id, err := idArg(args, "reserve <slot-id>")
		if err != nil {
			return err
		}
		b, err := s.client.Reserve(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "booked #%d for slot #%d (%s)\n", b.ID, b.SlotID, b.SlotDescription)
	case "bookings":
		bookings, err := s.client.MyBookings(ctx)
		if err != nil {
			return err
		}
		if len(bookings) == 0 {
			fmt.Fprintln(s.out, "no active bookings")
		}
		for _, b := range bookings {
			fmt.Fprintf(s.out, "#%d  slot #%d  %s  %s\n", b.ID, b.SlotID, b.SlotDescription,
				b.SlotTime.Local().Format("2006-01-02 15:04"))
		}
	case "cancel":
		id, err := idArg(args, "cancel <booking-id>")
		if err != nil {
			return err
		}
		if err := s.client.Cancel(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "booking #%d cancelled\n", id)
	case "register":
		if len(args) < 4 {
			return usageError("register <user> <pass> <email> <full name>")
		}
		err := s.client.Register(ctx, protocol.RegisterCommand{
			Username: args[0],
			Password: args[1],
			Email:    args[2],
			FullName: strings.Join(args[3:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, "registered, you can log in now")
	case "login":
		if len(args) != 2 {
			return usageError("login <user> <pass>")
		}
		u, err := s.client.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "logged in as %s\n", u.Username)
	case "whoami":
		u, err := s.client.GetUser(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s <%s> %s\n", u.Username, u.Email, u.FullName)
	case "raw":
		_, raw, _ := strings.Cut(strings.TrimSpace(line), " ")
		resp, err := s.client.SendRaw(ctx, strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %s\n", resp.Status, resp.Message)
	case "exit", "quit":
		if err := s.client.Exit(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Goodbye!")
		return errQuit
	default:
		fmt.Fprintf(s.out, "unknown command %q, try help\n", cmd)
	}
	return nil
}

func idArg(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, usageError(usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError(usage)
	}
	return id, nil
}
