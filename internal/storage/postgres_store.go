package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

// PostgresStore expresses every transition as a conditional UPDATE so the
// compare-and-swap happens inside the database, not in Go.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings
		(id, confirmation_code, customer_id, customer_name, customer_phone, driver_id,
		 pickup_station, pickup_lat, pickup_lng, destination, dest_lat, dest_lng,
		 fare, distance_km, duration_min, status, payment_id, created_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULLIF($17,''),$18)`,
		b.ID, b.ConfirmationCode, b.CustomerID, b.CustomerName, b.CustomerPhone, b.DriverID,
		b.PickupStation, b.Pickup.Lat, b.Pickup.Lng, b.DestinationAddr, b.Destination.Lat, b.Destination.Lng,
		b.Fare, b.DistanceKm, b.DurationMin, string(b.Status), b.PaymentID, b.CreatedAt)
	return err
}

const bookingColumns = `
	id, confirmation_code, customer_id, customer_name, customer_phone,
	COALESCE(driver_id, ''), pickup_station, pickup_lat, pickup_lng,
	destination, dest_lat, dest_lng, fare, distance_km, duration_min,
	status, COALESCE(payment_id, ''), created_at, completed_at`

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE confirmation_code = $1`, code)
	return scanBooking(row)
}

func scanBooking(row *sql.Row) (*models.Booking, error) {
	var b models.Booking
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.ConfirmationCode, &b.CustomerID, &b.CustomerName, &b.CustomerPhone,
		&b.DriverID, &b.PickupStation, &b.Pickup.Lat, &b.Pickup.Lng,
		&b.DestinationAddr, &b.Destination.Lat, &b.Destination.Lng,
		&b.Fare, &b.DistanceKm, &b.DurationMin, &status, &b.PaymentID, &b.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}

func (p *PostgresStore) AssignBooking(ctx context.Context, id, driverID string) (bool, error) {
	return p.conditional(ctx, `UPDATE bookings SET status='accepted', driver_id=$2 WHERE id=$1 AND status='pending'`, id, driverID)
}

func (p *PostgresStore) StartBooking(ctx context.Context, id string) (bool, error) {
	return p.conditional(ctx, `UPDATE bookings SET status='in_progress' WHERE id=$1 AND status='accepted'`, id)
}

func (p *PostgresStore) CompleteBooking(ctx context.Context, id string, at time.Time) (bool, error) {
	return p.conditional(ctx, `UPDATE bookings SET status='completed', completed_at=$2 WHERE id=$1 AND status='in_progress'`, id, at)
}

func (p *PostgresStore) CancelBooking(ctx context.Context, id string, from models.BookingStatus) (bool, error) {
	if from.Terminal() {
		return false, nil
	}
	return p.conditional(ctx, `UPDATE bookings SET status='cancelled' WHERE id=$1 AND status=$2`, id, string(from))
}

func (p *PostgresStore) SetBookingPayment(ctx context.Context, id, paymentID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET payment_id=$2 WHERE id=$1`, id, paymentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, vehicle, lat, lng, status, rating, updated_at)
		VALUES ($1,$2,$3,$4,$5,COALESCE(NULLIF($6,''),'online'),$7,NOW())
		ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			name = COALESCE(NULLIF(EXCLUDED.name, ''), drivers.name),
			vehicle = COALESCE(NULLIF(EXCLUDED.vehicle, ''), drivers.vehicle),
			updated_at = NOW()`,
		d.ID, d.Name, d.Vehicle, d.Loc.Lat, d.Loc.Lng, string(d.Status), d.Rating)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, vehicle, lat, lng, status, COALESCE(current_booking, ''),
		       rating, total_earnings, completed_rides, updated_at
		FROM drivers WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Vehicle, &d.Loc.Lat, &d.Loc.Lng, &status, &d.CurrentBooking,
			&d.Rating, &d.TotalEarnings, &d.CompletedRides, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = models.DriverStatus(status)
	return &d, nil
}

func (p *PostgresStore) ClaimDriver(ctx context.Context, driverID, bookingID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET status='busy', current_booking=$2 WHERE id=$1 AND status='online'`,
		driverID, bookingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish a missing driver from a busy one
		if _, gerr := p.GetDriver(ctx, driverID); errors.Is(gerr, ErrNotFound) {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ReleaseDriver(ctx context.Context, driverID string, earnings float64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE drivers SET status='online', current_booking=NULL,
			total_earnings = total_earnings + $2,
			completed_rides = completed_rides + CASE WHEN $2 > 0 THEN 1 ELSE 0 END
		WHERE id=$1`, driverID, earnings)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
