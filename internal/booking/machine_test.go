package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/storage"
)

func newTestMachine(t *testing.T) (*Machine, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewMachine(store, nil), store
}

func seedDriver(t *testing.T, store storage.Store, id string) {
	t.Helper()
	err := store.UpsertDriver(context.Background(), &models.Driver{
		ID: id, Name: "田中運転手", Status: models.DriverOnline,
		Loc: models.Coord{Lat: 35.68, Lng: 139.76},
	})
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
}

func createBooking(t *testing.T, m *Machine) *models.Booking {
	t.Helper()
	b := &models.Booking{
		CustomerID:      "c1",
		PickupStation:   "東京",
		Pickup:          models.Coord{Lat: 35.6812, Lng: 139.7671},
		DestinationAddr: "渋谷",
		Destination:     models.Coord{Lat: 35.658, Lng: 139.7016},
		Fare:            2400,
	}
	if err := m.Create(context.Background(), b); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	seedDriver(t, store, "d1")
	b := createBooking(t, m)

	if b.Status != models.BookingPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	if !strings.HasPrefix(b.ConfirmationCode, "ZK") {
		t.Fatalf("unexpected confirmation code %q", b.ConfirmationCode)
	}

	if _, err := m.AssignDriver(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	d, _ := store.GetDriver(ctx, "d1")
	if d.Status != models.DriverBusy || d.CurrentBooking != b.ID {
		t.Fatalf("driver not busy after assign: %+v", d)
	}

	if _, err := m.Start(ctx, b.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := m.Complete(ctx, b.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.BookingCompleted || done.CompletedAt == nil {
		t.Fatalf("bad completed booking: %+v", done)
	}

	d, _ = store.GetDriver(ctx, "d1")
	if d.Status != models.DriverOnline || d.CurrentBooking != "" {
		t.Fatalf("driver not released: %+v", d)
	}
	if d.TotalEarnings != 2400 || d.CompletedRides != 1 {
		t.Fatalf("earnings not credited: %+v", d)
	}
}

func TestStartBeforeAcceptFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)
	b := createBooking(t, m)

	_, err := m.Start(ctx, b.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	got, _ := m.Get(ctx, b.ID)
	if got.Status != models.BookingPending {
		t.Fatalf("booking mutated on failed transition: %s", got.Status)
	}
}

func TestCancelCompletedFails(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	seedDriver(t, store, "d1")
	b := createBooking(t, m)

	if _, err := m.AssignDriver(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.Start(ctx, b.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Complete(ctx, b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := m.Cancel(ctx, b.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	got, _ := m.Get(ctx, b.ID)
	if got.Status != models.BookingCompleted {
		t.Fatalf("terminal booking mutated: %s", got.Status)
	}
}

func TestCancelReleasesDriver(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	seedDriver(t, store, "d1")
	b := createBooking(t, m)

	if _, err := m.AssignDriver(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	d, _ := store.GetDriver(ctx, "d1")
	if d.Status != models.DriverOnline || d.CurrentBooking != "" {
		t.Fatalf("driver not released on cancel: %+v", d)
	}
	if d.TotalEarnings != 0 {
		t.Fatalf("cancelled ride must not credit earnings: %+v", d)
	}
}

func TestAssignOfflineDriverFails(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	_ = store.UpsertDriver(ctx, &models.Driver{ID: "d-off", Status: models.DriverOffline})
	b := createBooking(t, m)

	_, err := m.AssignDriver(ctx, b.ID, "d-off")
	if !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("expected DriverUnavailable, got %v", err)
	}
}

func TestAssignUnknownBooking(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	seedDriver(t, store, "d1")

	_, err := m.AssignDriver(ctx, "missing", "d1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestConcurrentAssignSameDriver(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)
	seedDriver(t, store, "d1")

	const attempts = 8
	bookings := make([]*models.Booking, attempts)
	for i := range bookings {
		bookings[i] = createBooking(t, m)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.AssignDriver(ctx, id, "d1")
			errs <- err
		}(bookings[i].ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrDriverUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful assign, got %d", success)
	}

	d, _ := store.GetDriver(ctx, "d1")
	if d.Status != models.DriverBusy || d.CurrentBooking == "" {
		t.Fatalf("driver should hold exactly one booking: %+v", d)
	}
	accepted := 0
	for _, b := range bookings {
		got, _ := m.Get(ctx, b.ID)
		if got.Status == models.BookingAccepted {
			accepted++
			if got.ID != d.CurrentBooking {
				t.Fatalf("accepted booking %s != driver's booking %s", got.ID, d.CurrentBooking)
			}
		}
	}
	if accepted != 1 {
		t.Fatalf("expected 1 accepted booking, got %d", accepted)
	}
}

func TestConcurrentAssignDistinctDrivers(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%d", i)
		seedDriver(t, store, id)
		b := createBooking(t, m)
		wg.Add(1)
		go func(bookingID, driverID string) {
			defer wg.Done()
			_, err := m.AssignDriver(ctx, bookingID, driverID)
			errs <- err
		}(b.ID, id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("independent assigns must not conflict: %v", err)
		}
	}
}
