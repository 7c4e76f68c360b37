package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the single source of truth for driver and booking records.
// Every status-changing method is a compare-and-swap: it reports false
// when the record was not in the expected state, leaving it untouched.
// The booking machine is the only caller of the transition methods.
type Store interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*models.Booking, error)
	AssignBooking(ctx context.Context, id, driverID string) (bool, error)
	StartBooking(ctx context.Context, id string) (bool, error)
	CompleteBooking(ctx context.Context, id string, at time.Time) (bool, error)
	CancelBooking(ctx context.Context, id string, from models.BookingStatus) (bool, error)
	SetBookingPayment(ctx context.Context, id, paymentID string) error

	UpsertDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	ClaimDriver(ctx context.Context, driverID, bookingID string) (bool, error)
	ReleaseDriver(ctx context.Context, driverID string, earnings float64) error
}

type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	byCode   map[string]string
	drivers  map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		byCode:   make(map[string]string),
		drivers:  make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	if b.ConfirmationCode != "" {
		m.byCode[b.ConfirmationCode] = b.ID
	}
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	m.mu.Lock()
	id, ok := m.byCode[code]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetBooking(ctx, id)
}

func (m *MemoryStore) AssignBooking(ctx context.Context, id, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.BookingPending {
		return false, nil
	}
	b.Status = models.BookingAccepted
	b.DriverID = driverID
	return true, nil
}

func (m *MemoryStore) StartBooking(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.BookingAccepted {
		return false, nil
	}
	b.Status = models.BookingInProgress
	return true, nil
}

func (m *MemoryStore) CompleteBooking(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.BookingInProgress {
		return false, nil
	}
	b.Status = models.BookingCompleted
	b.CompletedAt = &at
	return true, nil
}

func (m *MemoryStore) CancelBooking(ctx context.Context, id string, from models.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != from || from.Terminal() {
		return false, nil
	}
	b.Status = models.BookingCancelled
	return true, nil
}

func (m *MemoryStore) SetBookingPayment(ctx context.Context, id, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.PaymentID = paymentID
	return nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.drivers[d.ID]; ok {
		// location updates never touch dispatch state
		prev.Loc = d.Loc
		prev.Updated = time.Now()
		if d.Name != "" {
			prev.Name = d.Name
		}
		if d.Vehicle != "" {
			prev.Vehicle = d.Vehicle
		}
		if d.Rating != 0 {
			prev.Rating = d.Rating
		}
		return nil
	}
	cp := *d
	if cp.Status == "" {
		cp.Status = models.DriverOnline
	}
	cp.Updated = time.Now()
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ClaimDriver(ctx context.Context, driverID, bookingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return false, ErrNotFound
	}
	if d.Status != models.DriverOnline {
		return false, nil
	}
	d.Status = models.DriverBusy
	d.CurrentBooking = bookingID
	return true, nil
}

func (m *MemoryStore) ReleaseDriver(ctx context.Context, driverID string, earnings float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Status = models.DriverOnline
	d.CurrentBooking = ""
	if earnings > 0 {
		d.TotalEarnings += earnings
		d.CompletedRides++
	}
	return nil
}
