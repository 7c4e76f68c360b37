// Package dispatch orchestrates booking creation and lifecycle: candidate
// drivers from the geo index, fare/wait adjustment from the fusion
// engine, transitions through the booking machine, and event fan-out over
// the realtime hub.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/booking"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/eta"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/fusion"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/geo"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/observability"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/payments"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/realtime"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/storage"
)

// Publisher is the slice of the realtime hub the coordinator needs.
type Publisher interface {
	Publish(topic, eventType string, payload interface{})
}

// Notifier sends best-effort user messages; implementations never return
// errors to this package.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// LocationSink receives driver location updates for the ingest pipeline.
type LocationSink interface {
	PublishLocation(u models.LocationUpdate) error
}

type Coordinator struct {
	Geo      geo.Geo
	Machine  *booking.Machine
	Store    storage.Store
	Signals  *fusion.Engine
	Hub      Publisher
	Payments payments.Charger
	Notifier Notifier
	Ingest   LocationSink

	ETAClient       eta.Client
	ETACache        *eta.Cache
	DefaultSpeedMps float64
	SearchRadiusKm  float64
	TopN            int
	Logger          *slog.Logger
}

type CreateBookingRequest struct {
	CustomerID      string
	CustomerName    string
	CustomerPhone   string
	PickupStation   string
	Pickup          models.Coord
	DestinationAddr string
	Destination     models.Coord
	Fare            float64
}

// Quote is what the client gets back for a new booking: the persisted
// pending booking plus the demand-adjusted numbers behind its fare.
type Quote struct {
	Booking            *models.Booking          `json:"booking"`
	Drivers            []models.Driver          `json:"drivers"`
	NoDriversAvailable bool                     `json:"no_drivers_available"`
	DemandImpact       float64                  `json:"demand_impact"`
	RainImminent       bool                     `json:"rain_imminent"`
	EstimatedWaitSec   float64                  `json:"estimated_wait_seconds"`
	Alerts             []fusion.ClassifiedAlert `json:"alerts,omitempty"`
	SignalsDegraded    bool                     `json:"signals_degraded"`
}

// CreateBooking quotes and persists a pending booking. Finding no nearby
// driver is reported in the quote, not as an error.
func (c *Coordinator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Quote, error) {
	radius := c.SearchRadiusKm
	if radius <= 0 {
		radius = 5
	}
	topN := c.TopN
	if topN <= 0 {
		topN = 8
	}

	candidates := c.Geo.Nearby(req.Pickup.Lat, req.Pickup.Lng, radius, topN)
	sig := c.Signals.Snapshot(ctx, req.Pickup.Lat, req.Pickup.Lng)

	fare := req.Fare * (1 + sig.DemandImpact/100)

	q := &Quote{
		Drivers:         candidates,
		DemandImpact:    sig.DemandImpact,
		RainImminent:    sig.RainImminent,
		Alerts:          sig.Alerts,
		SignalsDegraded: sig.Degraded,
	}
	if len(candidates) == 0 {
		q.NoDriversAvailable = true
		observability.NoDriversAvailable.Inc()
	} else {
		q.EstimatedWaitSec = c.pickupETA(candidates[0].Loc, req.Pickup)
	}

	b := &models.Booking{
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		PickupStation:   req.PickupStation,
		Pickup:          req.Pickup,
		DestinationAddr: req.DestinationAddr,
		Destination:     req.Destination,
		Fare:            fare,
		DistanceKm:      geo.HaversineKm(req.Pickup.Lat, req.Pickup.Lng, req.Destination.Lat, req.Destination.Lng),
	}
	b.DurationMin = eta.EstimateSeconds(req.Pickup, req.Destination, c.DefaultSpeedMps) / 60

	if err := c.Machine.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	q.Booking = b

	observability.BookingsCreated.Inc()
	c.publish(realtime.BookingTopic(b.ID), "booking_created", b)
	return q, nil
}

// Accept assigns the driver, holds payment, and notifies the customer.
func (c *Coordinator) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := c.Machine.AssignDriver(ctx, bookingID, driverID)
	if err != nil {
		observability.BookingTransitions.WithLabelValues("accept", "rejected").Inc()
		return nil, err
	}
	observability.BookingTransitions.WithLabelValues("accept", "ok").Inc()

	if c.Payments != nil && b.Fare > 0 {
		if pid, err := c.Payments.Hold(ctx, int64(b.Fare), b.ID); err != nil {
			c.warn("payment hold failed", "booking", b.ID, "error", err)
		} else if err := c.Store.SetBookingPayment(ctx, b.ID, pid); err != nil {
			c.warn("payment correlation store failed", "booking", b.ID, "error", err)
		} else {
			b.PaymentID = pid
		}
	}

	c.publish(realtime.BookingTopic(b.ID), "booking_status", b)
	c.publish(realtime.DriverTopic(driverID), "driver_assigned", b)
	c.notify(ctx, b.CustomerID, "ドライバーが決まりました。確認コード: "+b.ConfirmationCode)
	return b, nil
}

func (c *Coordinator) Start(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := c.Machine.Start(ctx, bookingID)
	if err != nil {
		observability.BookingTransitions.WithLabelValues("start", "rejected").Inc()
		return nil, err
	}
	observability.BookingTransitions.WithLabelValues("start", "ok").Inc()
	c.publish(realtime.BookingTopic(b.ID), "booking_status", b)
	return b, nil
}

// Complete finishes the ride and captures the payment hold. A capture
// failure does not undo the completed ride; it is logged for retry out of
// band.
func (c *Coordinator) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := c.Machine.Complete(ctx, bookingID)
	if err != nil {
		observability.BookingTransitions.WithLabelValues("complete", "rejected").Inc()
		return nil, err
	}
	observability.BookingTransitions.WithLabelValues("complete", "ok").Inc()

	if c.Payments != nil && b.PaymentID != "" {
		if err := c.Payments.Capture(ctx, b.PaymentID); err != nil {
			c.warn("payment capture failed", "booking", b.ID, "payment", b.PaymentID, "error", err)
		}
	}

	c.publish(realtime.BookingTopic(b.ID), "booking_status", b)
	if b.DriverID != "" {
		c.publish(realtime.DriverTopic(b.DriverID), "driver_released", b)
	}
	c.notify(ctx, b.CustomerID, "ご乗車ありがとうございました。")
	return b, nil
}

func (c *Coordinator) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := c.Machine.Cancel(ctx, bookingID)
	if err != nil {
		observability.BookingTransitions.WithLabelValues("cancel", "rejected").Inc()
		return nil, err
	}
	observability.BookingTransitions.WithLabelValues("cancel", "ok").Inc()

	if c.Payments != nil && b.PaymentID != "" {
		if err := c.Payments.Cancel(ctx, b.PaymentID); err != nil {
			c.warn("payment hold release failed", "booking", b.ID, "payment", b.PaymentID, "error", err)
		}
	}

	c.publish(realtime.BookingTopic(b.ID), "booking_status", b)
	if b.DriverID != "" {
		c.publish(realtime.DriverTopic(b.DriverID), "driver_released", b)
	}
	return b, nil
}

// UpdateDriverLocation is the single write path for driver positions:
// store, geo index, ingest topic, realtime fan-out.
func (c *Coordinator) UpdateDriverLocation(ctx context.Context, u models.LocationUpdate) (*models.Driver, error) {
	if u.RecordedAt.IsZero() {
		u.RecordedAt = time.Now()
	}
	d := models.Driver{ID: u.DriverID, Loc: models.Coord{Lat: u.Lat, Lng: u.Lng}}
	if err := c.Store.UpsertDriver(ctx, &d); err != nil {
		return nil, fmt.Errorf("driver %s: %w", u.DriverID, err)
	}
	c.Geo.Upsert(d)

	if c.Ingest != nil {
		if err := c.Ingest.PublishLocation(u); err != nil {
			c.warn("location ingest publish failed", "driver", u.DriverID, "error", err)
		}
	}
	c.publish(realtime.DriverTopic(u.DriverID), "driver_location", u)
	return c.Store.GetDriver(ctx, u.DriverID)
}

// HandlePaymentEvent applies a verified provider webhook. Signature
// verification happens at the HTTP boundary; by the time an event reaches
// here it is trusted.
func (c *Coordinator) HandlePaymentEvent(ctx context.Context, ev payments.PaymentEvent) error {
	if ev.BookingID == "" {
		c.warn("payment event without booking correlation", "type", ev.Type, "payment", ev.PaymentIntentID)
		return nil
	}
	if err := c.Store.SetBookingPayment(ctx, ev.BookingID, ev.PaymentIntentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("payment event for unknown booking %s: %w", ev.BookingID, err)
		}
		return fmt.Errorf("payment event for booking %s: %w", ev.BookingID, err)
	}
	c.publish(realtime.BookingTopic(ev.BookingID), "payment_update", map[string]string{
		"type":       ev.Type,
		"payment_id": ev.PaymentIntentID,
	})
	return nil
}

func (c *Coordinator) pickupETA(from, to models.Coord) float64 {
	if c.ETACache != nil {
		if v, ok := c.ETACache.Get(from, to); ok {
			return v
		}
	}
	if c.ETAClient != nil {
		if v, err := c.ETAClient.EstimateSeconds(from, to); err == nil {
			if c.ETACache != nil {
				c.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, c.DefaultSpeedMps)
}

func (c *Coordinator) publish(topic, eventType string, payload interface{}) {
	if c.Hub != nil {
		c.Hub.Publish(topic, eventType, payload)
	}
}

func (c *Coordinator) notify(ctx context.Context, userID, message string) {
	if c.Notifier != nil && userID != "" {
		c.Notifier.Notify(ctx, userID, message)
	}
}

func (c *Coordinator) warn(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Warn(msg, args...)
	}
}
