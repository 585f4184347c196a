// Package sending defines how a campaign message reaches one recipient.
//
// Each delivery vendor (the simulated vendor used in development, AWS SES)
// implements the Vendor interface. The campaign engine calls it inline in
// sync mode; the delivery worker calls it in async mode.
package sending

import (
	"context"

	"github.com/ignite/audience-crm/internal/domain"
)

// Recipient is the customer a message is addressed to.
type Recipient struct {
	CustomerID string
	Name       string
	Email      string
	Phone      string
	Channel    string
}

// RecipientFromCustomer builds a Recipient snapshot.
func RecipientFromCustomer(c *domain.Customer) Recipient {
	return Recipient{
		CustomerID: c.ID,
		Name:       c.FullName(),
		Email:      c.Email,
		Phone:      c.Phone,
		Channel:    c.PreferredChannel,
	}
}

// Outcome is a vendor's verdict for one message.
type Outcome struct {
	Status    domain.DeliveryStatus
	MessageID string
	Err       error
}

// Vendor delivers a single message. Implementations must be safe for
// concurrent use and must report failures through Outcome rather than
// panicking; Send never returns a PENDING status.
type Vendor interface {
	Send(ctx context.Context, to Recipient, message string) Outcome
	Name() string
}

// Sent is a successful Outcome.
func Sent(messageID string) Outcome {
	return Outcome{Status: domain.DeliverySent, MessageID: messageID}
}

// Failed is a failed Outcome.
func Failed(err error) Outcome {
	return Outcome{Status: domain.DeliveryFailed, Err: err}
}
