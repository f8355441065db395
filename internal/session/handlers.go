package session

import (
	"context"

	"slotbook/internal/auth"
	"slotbook/internal/protocol"
	"slotbook/internal/reservation"
)

func (s *Session) HandleLogin(ctx context.Context, cmd protocol.LoginCommand) protocol.Response {
	user, err := s.deps.Auth.Login(ctx, auth.LoginRequest{Username: cmd.Username, Password: cmd.Password})
	if err != nil {
		return s.fail(protocol.KindLogin, err)
	}

	// Bookings made on this connection before login move to the user.
	if _, err := s.deps.Reservations.ClaimBookings(ctx, reservation.Owner{Token: s.token, UserID: user.ID}); err != nil {
		return s.fail(protocol.KindLogin, err)
	}

	if err := s.transition(StateAuthenticated); err != nil {
		return s.fail(protocol.KindLogin, err)
	}
	s.mu.Lock()
	s.userID = user.ID
	s.mu.Unlock()

	s.logger.Info().Int64("user_id", user.ID).Msg("session authenticated")
	return protocol.Success("Login successful!", protocol.NewUserDTO(user))
}

func (s *Session) HandleRegister(ctx context.Context, cmd protocol.RegisterCommand) protocol.Response {
	_, err := s.deps.Auth.Register(ctx, auth.RegisterRequest{
		Username: cmd.Username,
		Password: cmd.Password,
		Email:    cmd.Email,
		FullName: cmd.FullName,
	})
	if err != nil {
		return s.fail(protocol.KindRegister, err)
	}
	return protocol.Success("Registration successful! Please login.", nil)
}

func (s *Session) HandleGetUser(ctx context.Context, _ protocol.GetUserCommand) protocol.Response {
	owner := s.owner()
	if owner.UserID == 0 {
		return s.fail(protocol.KindGetUser, auth.ErrNotAuthenticated)
	}
	user, err := s.deps.Auth.GetUser(ctx, owner.UserID)
	if err != nil {
		return s.fail(protocol.KindGetUser, err)
	}
	return protocol.Success("User info retrieved", protocol.NewUserDTO(user))
}

func (s *Session) HandleListSlots(ctx context.Context, _ protocol.ListSlotsCommand) protocol.Response {
	slots, err := s.deps.Reservations.ListAvailableSlots(ctx)
	if err != nil {
		return s.fail(protocol.KindListSlots, err)
	}
	return protocol.Success("Slots fetched", protocol.NewSlotDTOs(slots))
}

func (s *Session) HandleReserve(ctx context.Context, cmd protocol.ReserveCommand) protocol.Response {
	booking, err := s.deps.Reservations.Reserve(ctx, s.owner(), int64(cmd.SlotID))
	if err != nil {
		return s.fail(protocol.KindReserve, err)
	}
	return protocol.Success("Booking created successfully!", protocol.NewBookingDTO(booking))
}

func (s *Session) HandleMyBookings(ctx context.Context, _ protocol.MyBookingsCommand) protocol.Response {
	bookings, err := s.deps.Reservations.ListBookingsFor(ctx, s.owner())
	if err != nil {
		return s.fail(protocol.KindMyBookings, err)
	}
	return protocol.Success("Active bookings fetched", protocol.NewBookingDTOs(bookings))
}

func (s *Session) HandleCancel(ctx context.Context, cmd protocol.CancelCommand) protocol.Response {
	if err := s.deps.Reservations.Cancel(ctx, s.owner(), int64(cmd.BookingID)); err != nil {
		return s.fail(protocol.KindCancel, err)
	}
	return protocol.Success("Booking cancelled successfully!", nil)
}

func (s *Session) HandleExit(_ context.Context, _ protocol.ExitCommand) protocol.Response {
	return protocol.Done("Goodbye!")
}

var _ protocol.Handler = (*Session)(nil)
