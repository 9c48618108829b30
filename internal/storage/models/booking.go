package models

import (
	"time"
)

// BookingStatus is the lifecycle state of a reservation owned by the booking flow.
type BookingStatus string

const (
	BookingPending          BookingStatus = "pending"
	BookingAwaitingApproval BookingStatus = "awaiting_approval"
	BookingConfirmed        BookingStatus = "confirmed"
	BookingCanceled         BookingStatus = "canceled"
	BookingCompleted        BookingStatus = "completed"
)

// Occupies reports whether a booking in this status blocks its dates.
func (s BookingStatus) Occupies() bool {
	switch s {
	case BookingPending, BookingAwaitingApproval, BookingConfirmed:
		return true
	}
	return false
}

// Booking is a reservation from the application's own transactional flow.
// It is read-only from the calendar subsystem's point of view.
type Booking struct {
	ID         string        `json:"id"`
	PropertyID string        `json:"property_id"`
	CheckIn    time.Time     `json:"check_in"`
	CheckOut   time.Time     `json:"check_out"`
	Status     BookingStatus `json:"status"`
	GuestName  string        `json:"-"`
	GuestEmail string        `json:"-"`
}

// Property is the subset of a listing the calendar core needs.
type Property struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Location      string    `json:"location"`
	AvailableFrom time.Time `json:"available_from"`
	AvailableTo   time.Time `json:"available_to"`
}

// ManualBlock is an owner-entered range during which the property is not available.
type ManualBlock struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
