package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/ledger"
)

func kes(n int64) ledger.Money { return ledger.NewMoney(n, ledger.CurrencyKES) }

func TestFormatMoney(t *testing.T) {
	cases := map[string]ledger.Money{
		"KES 0.00":         kes(0),
		"KES 500.00":       kes(500),
		"KES 20,000.00":    kes(20000),
		"KES 1,250,000.00": kes(1250000),
		"KES -5,000.00":    kes(-5000),
		"12.50":            {Value: ledger.MustParseDecimal("12.5")},
	}
	for want, m := range cases {
		assert.Equal(t, want, FormatMoney(m))
	}
}

func TestRenderRentCharged(t *testing.T) {
	msg := RenderRentCharged(RentCharged{
		To:      Recipient{Name: "Amina Otieno", Email: "amina@example.com"},
		Unit:    "Riverside - Unit 2B",
		Period:  "March 2026",
		Amount:  kes(20000),
		Balance: kes(25000),
	})

	assert.Equal(t, "Rent Charged for March 2026", msg.Subject)
	assert.Contains(t, msg.Text, "Amount: KES 20,000.00")
	assert.Contains(t, msg.Text, "Unit: Riverside - Unit 2B")
	assert.Contains(t, msg.HTML, "Rent Charged Notice")
	assert.Equal(t, "Dear Amina, your rent of KES 20,000.00 for March 2026 has been charged. Balance: KES 25,000.00. Thank you!", msg.SMS)
}

func TestRenderPaymentAndLateFee(t *testing.T) {
	pay := RenderPaymentReceived(PaymentReceived{
		To:      Recipient{Name: "Brian"},
		Amount:  kes(15000),
		Date:    time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Balance: kes(0),
	})
	assert.Contains(t, pay.Text, "Date: 2026-03-04")

	fee := RenderLateFee(LateFee{To: Recipient{Name: "Brian"}, DaysOverdue: 9, Fee: kes(1000), Balance: kes(21000)})
	assert.Contains(t, fee.SMS, "9 days overdue")
	assert.Contains(t, fee.HTML, "KES 1,000.00")
}

func TestRenderLatePayment(t *testing.T) {
	msg := RenderLatePayment(LatePayment{To: Recipient{Name: "Brian Mwangi"}, DaysLate: 12, AmountDue: kes(25000)})
	assert.Equal(t, "URGENT: Rent Payment 12 Days Overdue", msg.Subject)
	assert.Contains(t, msg.Text, "Amount Due: KES 25,000.00")
	assert.Contains(t, msg.HTML, "Payment Reminder")
	assert.Equal(t, "REMINDER: Dear Brian, your rent is 12 days overdue. Amount due: KES 25,000.00. Please pay ASAP to avoid penalties.", msg.SMS)
}

func TestRenderHTML_EscapesNames(t *testing.T) {
	msg := RenderRentCharged(RentCharged{To: Recipient{Name: "<script>x</script>"}, Amount: kes(1), Balance: kes(1)})
	assert.NotContains(t, msg.HTML, "<script>")
}

// =============================================================================
// DELIVERY
// =============================================================================

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridNotifier(t *testing.T) {
	sender := &fakeSender{status: 202}
	n := &SendGridNotifier{client: sender, fromEmail: "rent@example.com", fromName: "Rent Office"}
	ctx := context.Background()

	// No email: skipped
	require.NoError(t, n.RentCharged(ctx, RentCharged{To: Recipient{Name: "No Mail"}, Amount: kes(1), Balance: kes(1)}))
	assert.Empty(t, sender.sent)

	require.NoError(t, n.RentCharged(ctx, RentCharged{
		To: Recipient{Name: "Amina", Email: "amina@example.com"}, Period: "March 2026", Amount: kes(1), Balance: kes(1),
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Rent Charged for March 2026", sender.sent[0].Subject)

	sender.status = 401
	err := n.LateFee(ctx, LateFee{To: Recipient{Email: "x@example.com"}, Fee: kes(1), Balance: kes(1)})
	assert.ErrorContains(t, err, "status 401")

	sender.status = 202
	require.NoError(t, n.LatePayment(ctx, LatePayment{To: Recipient{Name: "Brian", Email: "brian@example.com"}, DaysLate: 7, AmountDue: kes(1)}))
	assert.Equal(t, "URGENT: Rent Payment 7 Days Overdue", sender.sent[len(sender.sent)-1].Subject)

	sender.err = errors.New("network down")
	err = n.PaymentReceived(ctx, PaymentReceived{To: Recipient{Email: "x@example.com"}, Amount: kes(1), Balance: kes(1)})
	assert.ErrorContains(t, err, "network down")
}

type failing struct{ *LogNotifier }

func (failing) RentCharged(context.Context, RentCharged) error { return errors.New("boom") }

func TestMulti_JoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	logN := NewLogNotifier(zerolog.New(&buf))
	m := Multi{logN, failing{NewLogNotifier(zerolog.Nop())}}

	err := m.RentCharged(context.Background(), RentCharged{To: Recipient{Name: "Amina"}, Amount: kes(1), Balance: kes(1)})
	assert.ErrorContains(t, err, "boom")
	assert.Contains(t, buf.String(), `"notification":"rent_charged"`)

	assert.NoError(t, m.LateFee(context.Background(), LateFee{Fee: kes(1), Balance: kes(1)}))
	assert.NoError(t, m.LatePayment(context.Background(), LatePayment{DaysLate: 6, AmountDue: kes(1)}))
	assert.Contains(t, buf.String(), `"notification":"late_payment"`)
}
