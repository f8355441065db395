package protocol

import (
	"encoding/json"
	"time"

	"slotbook/internal/models"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusInfo    Status = "INFO"
	StatusDone    Status = "DONE"
)

// Response is one server line. Data is a DTO on the server side and a
// json.RawMessage after decoding on the client side.
type Response struct {
	Status  Status      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func Success(message string, data interface{}) Response {
	return Response{Status: StatusSuccess, Message: message, Data: data}
}

func Info(message string) Response {
	return Response{Status: StatusInfo, Message: message}
}

func Done(message string) Response {
	return Response{Status: StatusDone, Message: message}
}

func Error(code, message string) Response {
	return Response{Status: StatusError, Message: message, Code: code}
}

// DecodeData unmarshals the payload of a decoded response into out.
func (r Response) DecodeData(out interface{}) error {
	raw, ok := r.Data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(r.Data)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, out)
}

type SlotDTO struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

type BookingDTO struct {
	ID              int64     `json:"id"`
	SlotID          int64     `json:"slotId"`
	SlotDescription string    `json:"slotDescription"`
	BookedAt        time.Time `json:"bookedAt"`
	SlotTime        time.Time `json:"slotTime"`
}

type UserDTO struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func NewSlotDTOs(slots []models.TimeSlot) []SlotDTO {
	out := make([]SlotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotDTO{ID: s.ID, Description: s.Description, StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return out
}

func NewBookingDTO(b *models.Booking) BookingDTO {
	return BookingDTO{
		ID:              b.ID,
		SlotID:          b.TimeSlotID,
		SlotDescription: b.SlotDescription,
		BookedAt:        b.BookedAt,
		SlotTime:        b.SlotStart,
	}
}

func NewBookingDTOs(bookings []models.Booking) []BookingDTO {
	out := make([]BookingDTO, 0, len(bookings))
	for i := range bookings {
		out = append(out, NewBookingDTO(&bookings[i]))
	}
	return out
}

func NewUserDTO(u *models.User) UserDTO {
	return UserDTO{Username: u.Username, Email: u.Email, FullName: u.FullName}
}
