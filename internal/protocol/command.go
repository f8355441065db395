// Package protocol defines the newline-delimited JSON wire format spoken
// between booking clients and the server.
//
// Every line a client sends is an envelope {"type": KIND, "data": {...}}.
// Every line the server sends is a Response.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"slotbook/internal/apperr"
)

type Kind string

const (
	KindLogin      Kind = "LOGIN"
	KindRegister   Kind = "REGISTER"
	KindGetUser    Kind = "GET_USER"
	KindListSlots  Kind = "LIST_SLOTS"
	KindReserve    Kind = "RESERVE"
	KindMyBookings Kind = "MY_BOOKINGS"
	KindCancel     Kind = "CANCEL"
	KindExit       Kind = "EXIT"
)

// Command is one of the concrete command types in this package. The set is
// closed: dispatch is unexported.
type Command interface {
	Kind() Kind
	dispatch(ctx context.Context, h Handler) Response
}

// Handler has one method per command kind.
type Handler interface {
	HandleLogin(ctx context.Context, cmd LoginCommand) Response
	HandleRegister(ctx context.Context, cmd RegisterCommand) Response
	HandleGetUser(ctx context.Context, cmd GetUserCommand) Response
	HandleListSlots(ctx context.Context, cmd ListSlotsCommand) Response
	HandleReserve(ctx context.Context, cmd ReserveCommand) Response
	HandleMyBookings(ctx context.Context, cmd MyBookingsCommand) Response
	HandleCancel(ctx context.Context, cmd CancelCommand) Response
	HandleExit(ctx context.Context, cmd ExitCommand) Response
}

// Dispatch routes cmd to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, cmd Command) Response {
	return cmd.dispatch(ctx, h)
}

type LoginCommand struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterCommand struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type GetUserCommand struct{}

type ListSlotsCommand struct{}

type ReserveCommand struct {
	SlotID ID `json:"slotId"`
}

type MyBookingsCommand struct{}

type CancelCommand struct {
	BookingID ID `json:"bookingId"`
}

type ExitCommand struct{}

func (LoginCommand) Kind() Kind      { return KindLogin }
func (RegisterCommand) Kind() Kind   { return KindRegister }
func (GetUserCommand) Kind() Kind    { return KindGetUser }
func (ListSlotsCommand) Kind() Kind  { return KindListSlots }
func (ReserveCommand) Kind() Kind    { return KindReserve }
func (MyBookingsCommand) Kind() Kind { return KindMyBookings }
func (CancelCommand) Kind() Kind     { return KindCancel }
func (ExitCommand) Kind() Kind       { return KindExit }

func (c LoginCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleLogin(ctx, c)
}

func (c RegisterCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleRegister(ctx, c)
}

func (c GetUserCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleGetUser(ctx, c)
}

func (c ListSlotsCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleListSlots(ctx, c)
}

func (c ReserveCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleReserve(ctx, c)
}

func (c MyBookingsCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleMyBookings(ctx, c)
}

func (c CancelCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleCancel(ctx, c)
}

func (c ExitCommand) dispatch(ctx context.Context, h Handler) Response {
	return h.HandleExit(ctx, c)
}

// ID is a positive numeric identifier. It accepts a JSON number or a string
// holding one, since console clients tend to send what the user typed.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*id = ID(n)
	return nil
}

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	ErrMalformed = apperr.Validation("Malformed command")
	ErrBadSlotID = apperr.Validation("slotId must be a positive number")
	ErrBadBookID = apperr.Validation("bookingId must be a positive number")
)

// UnknownKindError is returned for a well-formed envelope with an unknown type.
func UnknownKindError(kind Kind) error {
	return apperr.Validation(fmt.Sprintf("Unknown command type: %s", kind))
}

// ParseCommand decodes one frame. Every failure is a VALIDATION_ERROR the
// session answers without closing.
func ParseCommand(line []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, ErrMalformed
	}

	switch Kind(strings.ToUpper(string(env.Type))) {
	case KindLogin:
		var c LoginCommand
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindRegister:
		var c RegisterCommand
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindGetUser:
		return GetUserCommand{}, nil
	case KindListSlots:
		return ListSlotsCommand{}, nil
	case KindReserve:
		var c ReserveCommand
		if err := decodeData(env.Data, &c); err != nil || c.SlotID <= 0 {
			return nil, ErrBadSlotID
		}
		return c, nil
	case KindMyBookings:
		return MyBookingsCommand{}, nil
	case KindCancel:
		var c CancelCommand
		if err := decodeData(env.Data, &c); err != nil || c.BookingID <= 0 {
			return nil, ErrBadBookID
		}
		return c, nil
	case KindExit:
		return ExitCommand{}, nil
	case "":
		return nil, ErrMalformed
	default:
		return nil, UnknownKindError(env.Type)
	}
}

func decodeData(data json.RawMessage, out interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ErrMalformed
	}
	return nil
}

// EncodeCommand builds the envelope for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: cmd.Kind(), Data: data})
}
