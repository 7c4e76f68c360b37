package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Charger is the payment contract the coordinator depends on: hold funds
// for a booking, capture on completion, cancel on abort.
type Charger interface {
	Hold(ctx context.Context, amountJPY int64, bookingID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// StripeClient wraps stripe-go PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a manual-capture PaymentIntent tagged with the booking ID
// so webhook events can be correlated back. JPY is zero-decimal: the
// amount is whole yen.
func (s *StripeClient) Hold(ctx context.Context, amountJPY int64, bookingID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountJPY),
		Currency: stripe.String(string(stripe.CurrencyJPY)),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("booking_id", bookingID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe hold for booking %s: %w", bookingID, err)
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	if _, err := paymentintent.Capture(paymentIntentID, nil); err != nil {
		return fmt.Errorf("stripe capture %s: %w", paymentIntentID, err)
	}
	return nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	if _, err := paymentintent.Cancel(paymentIntentID, nil); err != nil {
		return fmt.Errorf("stripe cancel %s: %w", paymentIntentID, err)
	}
	return nil
}
