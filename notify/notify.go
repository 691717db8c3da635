/*
notify.go - Tenant notifications

PURPOSE:
  Tells tenants when rent is charged, a payment is received, a late fee is
  applied, or their rent is overdue. Delivery is best-effort: callers log failures and move on,
  a failed email never rolls back a ledger entry.

IMPLEMENTATIONS:
  - LogNotifier:      Writes the rendered message to the log (dev, tests)
  - SendGridNotifier: Email through SendGrid
  - Multi:            Fans out to several notifiers

SEE ALSO:
  - templates.go: Message text
  - rent/engine.go, latefee/latefee.go: Callers
*/
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/rent-ledger/ledger"
)

// Notifier delivers tenant notifications.
type Notifier interface {
	RentCharged(ctx context.Context, n RentCharged) error
	PaymentReceived(ctx context.Context, n PaymentReceived) error
	LateFee(ctx context.Context, n LateFee) error
	LatePayment(ctx context.Context, n LatePayment) error
}

// Recipient is who a notification goes to.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// RecipientOf builds the recipient for a tenancy.
func RecipientOf(t ledger.Tenancy) Recipient {
	return Recipient{Name: t.TenantName, Email: t.Email, Phone: t.Phone}
}

type RentCharged struct {
	To      Recipient
	Unit    string
	Period  string
	Amount  ledger.Money
	Balance ledger.Money
}

type PaymentReceived struct {
	To      Recipient
	Amount  ledger.Money
	Date    time.Time
	Balance ledger.Money
}

type LateFee struct {
	To          Recipient
	Period      string
	DaysOverdue int
	Fee         ledger.Money
	Balance     ledger.Money
}

// LatePayment reminds a tenant that rent is overdue. No fee is implied.
type LatePayment struct {
	To        Recipient
	DaysLate  int
	AmountDue ledger.Money
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type LogNotifier struct {
	Logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) RentCharged(_ context.Context, msg RentCharged) error {
	return n.write("rent_charged", msg.To, RenderRentCharged(msg))
}

func (n *LogNotifier) PaymentReceived(_ context.Context, msg PaymentReceived) error {
	return n.write("payment_received", msg.To, RenderPaymentReceived(msg))
}

func (n *LogNotifier) LateFee(_ context.Context, msg LateFee) error {
	return n.write("late_fee", msg.To, RenderLateFee(msg))
}

func (n *LogNotifier) LatePayment(_ context.Context, msg LatePayment) error {
	return n.write("late_payment", msg.To, RenderLatePayment(msg))
}

func (n *LogNotifier) write(kind string, to Recipient, m Message) error {
	n.Logger.Info().
		Str("notification", kind).
		Str("to", to.Name).
		Str("email", to.Email).
		Str("subject", m.Subject).
		Str("sms", m.SMS).
		Msg("notification")
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) RentCharged(ctx context.Context, n RentCharged) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.RentCharged(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) PaymentReceived(ctx context.Context, n PaymentReceived) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.PaymentReceived(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) LateFee(ctx context.Context, n LateFee) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.LateFee(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) LatePayment(ctx context.Context, n LatePayment) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.LatePayment(ctx, n))
	}
	return errors.Join(errs...)
}
