package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers each command with the next scripted response.
func fakeServer(t *testing.T, conn net.Conn, script []Response) <-chan Command {
	t.Helper()
	got := make(chan Command, len(script))
	go func() {
		defer conn.Close()
		defer close(got)
		enc := NewEncoder(conn)
		dec := NewDecoder(conn, 0)
		if enc.WriteResponse(Info("CONNECTED|CLIENT-TEST0001")) != nil {
			return
		}
		if enc.WriteResponse(Info("Welcome to the Enterprise Booking System!")) != nil {
			return
		}
		for _, resp := range script {
			line, err := dec.Next()
			if err != nil {
				return
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				return
			}
			got <- cmd
			if enc.WriteResponse(resp) != nil {
				return
			}
		}
	}()
	return got
}

func TestClientHandshakeAndCalls(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	slotTime := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	got := fakeServer(t, serverConn, []Response{
		Success("Slots fetched", []SlotDTO{{ID: 1, Description: "Morning", StartTime: slotTime, EndTime: slotTime.Add(time.Hour)}}),
		Success("Booking created successfully!", BookingDTO{ID: 5, SlotID: 1, SlotDescription: "Morning", SlotTime: slotTime}),
		Error("CONFLICT", "Time slot is not available"),
		Done("Goodbye!"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := NewClient(ctx, clientConn)
	require.NoError(t, err)
	assert.Equal(t, "CLIENT-TEST0001", c.Token())
	assert.Equal(t, "Welcome to the Enterprise Booking System!", c.Welcome())

	slots, err := c.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "Morning", slots[0].Description)

	b, err := c.Reserve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.ID)

	_, err = c.Reserve(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsCode(err, "CONFLICT"))
	assert.Equal(t, "CONFLICT: Time slot is not available", err.Error())

	require.NoError(t, c.Exit(ctx))

	var kinds []Kind
	for cmd := range got {
		kinds = append(kinds, cmd.Kind())
	}
	assert.Equal(t, []Kind{KindListSlots, KindReserve, KindReserve, KindExit}, kinds)
}

func TestClientRejectsBadHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		_ = NewEncoder(serverConn).WriteResponse(Info("hello"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewClient(ctx, clientConn)
	assert.Error(t, err)
}
