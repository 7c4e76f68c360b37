package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type DriverStatus string

const (
	DriverOnline  DriverStatus = "online"
	DriverOffline DriverStatus = "offline"
	DriverBusy    DriverStatus = "busy"
)

// Driver is a geolocated vehicle operator. Status is busy iff CurrentBooking
// is set; that pairing only changes through booking transitions.
type Driver struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Vehicle        string       `json:"vehicle"`
	Loc            Coord        `json:"loc"`
	Status         DriverStatus `json:"status"`
	CurrentBooking string       `json:"current_booking,omitempty"`
	Rating         float64      `json:"rating"` // 0..5
	TotalEarnings  float64      `json:"total_earnings"`
	CompletedRides int          `json:"completed_rides"`
	Updated        time.Time    `json:"updated"`
}

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingAccepted   BookingStatus = "accepted"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

type Booking struct {
	ID               string        `json:"id"`
	ConfirmationCode string        `json:"confirmation_code"`
	CustomerID       string        `json:"customer_id"`
	CustomerName     string        `json:"customer_name"`
	CustomerPhone    string        `json:"customer_phone"`
	DriverID         string        `json:"driver_id,omitempty"`
	PickupStation    string        `json:"pickup_station"`
	Pickup           Coord         `json:"pickup"`
	DestinationAddr  string        `json:"destination"`
	Destination      Coord         `json:"destination_coord"`
	Fare             float64       `json:"fare"`
	DistanceKm       float64       `json:"distance_km"`
	DurationMin      float64       `json:"duration_min"`
	Status           BookingStatus `json:"status"`
	PaymentID        string        `json:"payment_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Station is immutable reference data loaded at startup.
type Station struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Reading    string   `json:"reading,omitempty"`
	Loc        Coord    `json:"loc"`
	Prefecture string   `json:"prefecture"`
	Lines      []string `json:"lines"`
}

type LocationUpdate struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}
