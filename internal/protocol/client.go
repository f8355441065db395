package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const connectedPrefix = "CONNECTED|"

// ServerError is an ERROR response surfaced as a Go error.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is a synchronous connection to a booking server. Calls are
// serialized; one request is in flight at a time.
type Client struct {
	conn    net.Conn
	dec     *Decoder
	enc     *Encoder
	token   string
	welcome string
	mu      sync.Mutex
}

// Dial connects and consumes the two-line handshake.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := NewClient(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient performs the handshake over an established connection.
func NewClient(ctx context.Context, conn net.Conn) (*Client, error) {
	c := &Client{
		conn: conn,
		dec:  NewDecoder(conn, DefaultMaxFrame),
		enc:  NewEncoder(conn),
	}

	c.setDeadline(ctx)
	defer c.conn.SetDeadline(time.Time{})

	first, err := c.dec.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if first.Status != StatusInfo || !strings.HasPrefix(first.Message, connectedPrefix) {
		return nil, fmt.Errorf("unexpected handshake %q", first.Message)
	}
	c.token = strings.TrimPrefix(first.Message, connectedPrefix)

	second, err := c.dec.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	c.welcome = second.Message

	return c, nil
}

// Token is the client token the server assigned to this connection.
func (c *Client) Token() string { return c.token }

func (c *Client) Welcome() string { return c.welcome }

func (c *Client) Close() error { return c.conn.Close() }

// Do sends cmd and returns the server's response as is, ERROR included.
func (c *Client) Do(ctx context.Context, cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setDeadline(ctx)
	defer c.conn.SetDeadline(time.Time{})

	if err := c.enc.WriteCommand(cmd); err != nil {
		return Response{}, err
	}
	return c.dec.ReadResponse()
}

// SendRaw writes one line verbatim and reads the reply.
func (c *Client) SendRaw(ctx context.Context, line string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setDeadline(ctx)
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return Response{}, err
	}
	return c.dec.ReadResponse()
}

func (c *Client) call(ctx context.Context, cmd Command, out interface{}) (Response, error) {
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return resp, err
	}
	if resp.Status == StatusError {
		return resp, &ServerError{Code: resp.Code, Message: resp.Message}
	}
	if out != nil && resp.Data != nil {
		if err := resp.DecodeData(out); err != nil {
			return resp, fmt.Errorf("decode %s payload: %w", cmd.Kind(), err)
		}
	}
	return resp, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*UserDTO, error) {
	var u UserDTO
	if _, err := c.call(ctx, LoginCommand{Username: username, Password: password}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Register(ctx context.Context, cmd RegisterCommand) error {
	_, err := c.call(ctx, cmd, nil)
	return err
}

func (c *Client) GetUser(ctx context.Context) (*UserDTO, error) {
	var u UserDTO
	if _, err := c.call(ctx, GetUserCommand{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ListSlots(ctx context.Context) ([]SlotDTO, error) {
	var slots []SlotDTO
	if _, err := c.call(ctx, ListSlotsCommand{}, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) Reserve(ctx context.Context, slotID int64) (*BookingDTO, error) {
	var b BookingDTO
	if _, err := c.call(ctx, ReserveCommand{SlotID: ID(slotID)}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) MyBookings(ctx context.Context) ([]BookingDTO, error) {
	var bookings []BookingDTO
	if _, err := c.call(ctx, MyBookingsCommand{}, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (c *Client) Cancel(ctx context.Context, bookingID int64) error {
	_, err := c.call(ctx, CancelCommand{BookingID: ID(bookingID)}, nil)
	return err
}

// Exit asks the server to end the session and closes the connection.
func (c *Client) Exit(ctx context.Context) error {
	resp, err := c.call(ctx, ExitCommand{}, nil)
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	if resp.Status != StatusDone {
		return fmt.Errorf("unexpected exit status %s", resp.Status)
	}
	return closeErr
}

// IsCode reports whether err is an ERROR response with the given code.
func IsCode(err error, code string) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}

func (c *Client) setDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}
}
