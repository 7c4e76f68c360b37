package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// ErrBadSignature marks a webhook whose signature did not verify. It is a
// security rejection and must short-circuit before any state mutation.
var ErrBadSignature = errors.New("webhook signature verification failed")

// PaymentEvent is the normalized view of a provider webhook the
// coordinator acts on.
type PaymentEvent struct {
	Type            string
	PaymentIntentID string
	BookingID       string
	AmountJPY       int64
}

// VerifyAndParse checks the Stripe-Signature header against the payload
// before anything else, then extracts the PaymentIntent fields we use.
func VerifyAndParse(payload []byte, signatureHeader, secret string) (PaymentEvent, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, secret)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return PaymentEvent{}, fmt.Errorf("webhook payload decode: %w", err)
	}
	return PaymentEvent{
		Type:            string(ev.Type),
		PaymentIntentID: pi.ID,
		BookingID:       pi.Metadata["booking_id"],
		AmountJPY:       pi.Amount,
	}, nil
}
