package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sendgrid/rest"
)

// mailSender is the part of the SendGrid client used here.
type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier emails tenants through SendGrid. Tenants without an email
// address are skipped.
type SendGridNotifier struct {
	client    mailSender
	fromEmail string
	fromName  string
}

func NewSendGridNotifier(apiKey, fromEmail, fromName string) *SendGridNotifier {
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SendGridNotifier) RentCharged(ctx context.Context, n RentCharged) error {
	return s.send(ctx, n.To, RenderRentCharged(n))
}

func (s *SendGridNotifier) PaymentReceived(ctx context.Context, n PaymentReceived) error {
	return s.send(ctx, n.To, RenderPaymentReceived(n))
}

func (s *SendGridNotifier) LateFee(ctx context.Context, n LateFee) error {
	return s.send(ctx, n.To, RenderLateFee(n))
}

func (s *SendGridNotifier) LatePayment(ctx context.Context, n LatePayment) error {
	return s.send(ctx, n.To, RenderLatePayment(n))
}

func (s *SendGridNotifier) send(ctx context.Context, to Recipient, m Message) error {
	if to.Email == "" {
		log.Ctx(ctx).Debug().Str("to", to.Name).Msg("notify: no email address, skipping")
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail(to.Name, to.Email)
	message := mail.NewSingleEmail(from, m.Subject, recipient, m.Text, m.HTML)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify.SendGrid: send to %s: %w", to.Email, err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("notify.SendGrid: status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
