// Package booking owns the booking lifecycle. All status and
// current-booking mutation in the system funnels through the Machine;
// nothing else is allowed to move a booking or flip a driver busy.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrNotFound          = storage.ErrNotFound
)

// StatusMirror receives driver dispatch-state changes so a secondary
// index (the geo index) can stay in step with the store.
type StatusMirror interface {
	SetStatus(driverID string, status models.DriverStatus, bookingID string)
}

type Machine struct {
	store  storage.Store
	mirror StatusMirror
	now    func() time.Time
}

func NewMachine(store storage.Store, mirror StatusMirror) *Machine {
	return &Machine{store: store, mirror: mirror, now: time.Now}
}

// Create persists a new pending booking, assigning its ID and
// confirmation code.
func (m *Machine) Create(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.ConfirmationCode == "" {
		b.ConfirmationCode = newConfirmationCode()
	}
	b.Status = models.BookingPending
	b.CreatedAt = m.now()
	return m.store.CreateBooking(ctx, b)
}

func (m *Machine) Get(ctx context.Context, id string) (*models.Booking, error) {
	return m.store.GetBooking(ctx, id)
}

func (m *Machine) GetByCode(ctx context.Context, code string) (*models.Booking, error) {
	return m.store.GetBookingByCode(ctx, code)
}

// AssignDriver moves a pending booking to accepted, claiming the driver
// online → busy. Claiming is a compare-and-swap in the store, so two
// concurrent assigns on one driver cannot both win.
func (m *Machine) AssignDriver(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, err)
	}
	if b.Status != models.BookingPending {
		return nil, fmt.Errorf("booking %s is %s: %w", bookingID, b.Status, ErrInvalidTransition)
	}

	claimed, err := m.store.ClaimDriver(ctx, driverID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", driverID, err)
	}
	if !claimed {
		return nil, fmt.Errorf("driver %s: %w", driverID, ErrDriverUnavailable)
	}

	moved, err := m.store.AssignBooking(ctx, bookingID, driverID)
	if err == nil && !moved {
		err = fmt.Errorf("booking %s changed state: %w", bookingID, ErrInvalidTransition)
	}
	if err != nil {
		// roll the claim back so the driver is not stranded busy
		_ = m.store.ReleaseDriver(ctx, driverID, 0)
		return nil, err
	}

	m.mirrorStatus(driverID, models.DriverBusy, bookingID)
	return m.store.GetBooking(ctx, bookingID)
}

func (m *Machine) Start(ctx context.Context, bookingID string) (*models.Booking, error) {
	moved, err := m.store.StartBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, err)
	}
	if !moved {
		return nil, m.transitionError(ctx, bookingID)
	}
	return m.store.GetBooking(ctx, bookingID)
}

// Complete finishes an in-progress booking, stamps completion time and
// returns the driver to online with earnings credited.
func (m *Machine) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, err)
	}
	moved, err := m.store.CompleteBooking(ctx, bookingID, m.now())
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, err)
	}
	if !moved {
		return nil, m.transitionError(ctx, bookingID)
	}
	if b.DriverID != "" {
		if err := m.store.ReleaseDriver(ctx, b.DriverID, b.Fare); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("release driver %s: %w", b.DriverID, err)
		}
		m.mirrorStatus(b.DriverID, models.DriverOnline, "")
	}
	return m.store.GetBooking(ctx, bookingID)
}

// Cancel moves any non-terminal booking to cancelled and frees an
// assigned driver. Retries the compare-and-swap if the booking advanced
// underneath us.
func (m *Machine) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	for {
		b, err := m.store.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("booking %s: %w", bookingID, err)
		}
		if b.Status.Terminal() {
			return nil, fmt.Errorf("booking %s is %s: %w", bookingID, b.Status, ErrInvalidTransition)
		}
		moved, err := m.store.CancelBooking(ctx, bookingID, b.Status)
		if err != nil {
			return nil, fmt.Errorf("booking %s: %w", bookingID, err)
		}
		if !moved {
			continue // status changed concurrently; re-read and retry
		}
		if b.DriverID != "" {
			if err := m.store.ReleaseDriver(ctx, b.DriverID, 0); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("release driver %s: %w", b.DriverID, err)
			}
			m.mirrorStatus(b.DriverID, models.DriverOnline, "")
		}
		return m.store.GetBooking(ctx, bookingID)
	}
}

func (m *Machine) mirrorStatus(driverID string, status models.DriverStatus, bookingID string) {
	if m.mirror != nil {
		m.mirror.SetStatus(driverID, status, bookingID)
	}
}

// transitionError classifies a failed CAS: missing booking vs wrong state.
func (m *Machine) transitionError(ctx context.Context, bookingID string) error {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("booking %s: %w", bookingID, err)
	}
	return fmt.Errorf("booking %s is %s: %w", bookingID, b.Status, ErrInvalidTransition)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newConfirmationCode matches the customer-facing ZK-prefixed codes the
// mobile client displays.
func newConfirmationCode() string {
	var sb strings.Builder
	sb.WriteString("ZK")
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			sb.WriteByte('0')
			continue
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String()
}
