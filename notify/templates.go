package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/warp/rent-ledger/ledger"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Text    string
	HTML    string
	SMS     string
}

var funcs = template.FuncMap{"money": FormatMoney, "first": firstName}

// =============================================================================
// RENT CHARGED
// =============================================================================

var rentChargedText = template.Must(template.New("rent_charged").Funcs(funcs).Parse(`Dear {{.To.Name}},

This is to notify you that your rent has been charged:

Amount: {{money .Amount}}
Month: {{.Period}}
Unit: {{.Unit}}

Current Balance: {{money .Balance}}

Please make payment at your earliest convenience.

Best regards,
Property Management Team
`))

var rentChargedHTML = htmltemplate.Must(htmltemplate.New("rent_charged").Funcs(htmltemplate.FuncMap(funcs)).Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2 style="background: #2196F3; color: white; padding: 16px;">Rent Charged Notice</h2>
<p>Dear <strong>{{.To.Name}}</strong>,</p>
<p>This is to notify you that your rent has been charged:</p>
<p><strong>Amount:</strong> {{money .Amount}}<br>
<strong>Month:</strong> {{.Period}}<br>
<strong>Unit:</strong> {{.Unit}}</p>
<p><strong>Current Balance:</strong> {{money .Balance}}</p>
<p>Please make payment at your earliest convenience.</p>
</body></html>
`))

var rentChargedSMS = template.Must(template.New("rent_charged_sms").Funcs(funcs).Parse(
	`Dear {{first .To.Name}}, your rent of {{money .Amount}} for {{.Period}} has been charged. Balance: {{money .Balance}}. Thank you!`))

func RenderRentCharged(n RentCharged) Message {
	return Message{
		Subject: "Rent Charged for " + n.Period,
		Text:    render(rentChargedText, n),
		HTML:    renderHTML(rentChargedHTML, n),
		SMS:     render(rentChargedSMS, n),
	}
}

// =============================================================================
// PAYMENT RECEIVED
// =============================================================================

var paymentText = template.Must(template.New("payment").Funcs(funcs).Parse(`Dear {{.To.Name}},

We have successfully received your payment:

Amount: {{money .Amount}}
Date: {{.Date.Format "2006-01-02"}}
New Balance: {{money .Balance}}

Thank you for your prompt payment!

Best regards,
Property Management Team
`))

var paymentHTML = htmltemplate.Must(htmltemplate.New("payment").Funcs(htmltemplate.FuncMap(funcs)).Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2 style="background: #4CAF50; color: white; padding: 16px;">Payment Received</h2>
<p>Dear <strong>{{.To.Name}}</strong>,</p>
<p><strong>Amount:</strong> {{money .Amount}}<br>
<strong>Date:</strong> {{.Date.Format "2006-01-02"}}<br>
<strong>New Balance:</strong> {{money .Balance}}</p>
<p>Thank you for your prompt payment!</p>
</body></html>
`))

var paymentSMS = template.Must(template.New("payment_sms").Funcs(funcs).Parse(
	`Dear {{first .To.Name}}, we have received your payment of {{money .Amount}}. New balance: {{money .Balance}}. Thank you!`))

func RenderPaymentReceived(n PaymentReceived) Message {
	return Message{
		Subject: "Payment Received - Thank You!",
		Text:    render(paymentText, n),
		HTML:    renderHTML(paymentHTML, n),
		SMS:     render(paymentSMS, n),
	}
}

// =============================================================================
// LATE FEE
// =============================================================================

var lateFeeText = template.Must(template.New("late_fee").Funcs(funcs).Parse(`Dear {{.To.Name}},

Your rent payment is overdue and a late fee has been applied.

Days Overdue: {{.DaysOverdue}}
Late Fee: {{money .Fee}}
Total Balance: {{money .Balance}}

Please make payment as soon as possible to avoid further penalties.
If you have already made payment, please disregard this notice.

Best regards,
Property Management Team
`))

var lateFeeHTML = htmltemplate.Must(htmltemplate.New("late_fee").Funcs(htmltemplate.FuncMap(funcs)).Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2 style="background: #f44336; color: white; padding: 16px;">Rent Payment Overdue</h2>
<p>Dear <strong>{{.To.Name}}</strong>,</p>
<p><strong>Days Overdue:</strong> {{.DaysOverdue}}<br>
<strong>Late Fee:</strong> {{money .Fee}}<br>
<strong>Total Balance:</strong> {{money .Balance}}</p>
<p>Please make payment as soon as possible to avoid further penalties.</p>
</body></html>
`))

var lateFeeSMS = template.Must(template.New("late_fee_sms").Funcs(funcs).Parse(
	`REMINDER: Dear {{first .To.Name}}, your rent is {{.DaysOverdue}} days overdue. A late fee of {{money .Fee}} was applied. Balance: {{money .Balance}}.`))

func RenderLateFee(n LateFee) Message {
	return Message{
		Subject: "URGENT: Rent Payment Overdue",
		Text:    render(lateFeeText, n),
		HTML:    renderHTML(lateFeeHTML, n),
		SMS:     render(lateFeeSMS, n),
	}
}

// =============================================================================
// LATE PAYMENT REMINDER
// =============================================================================

var latePaymentText = template.Must(template.New("late_payment").Funcs(funcs).Parse(`Dear {{.To.Name}},

This is a friendly reminder that your rent payment is overdue.

Days Overdue: {{.DaysLate}}
Amount Due: {{money .AmountDue}}

Please make payment as soon as possible to avoid late fees and other penalties.
If you have already made payment, please disregard this notice.

For any questions or payment arrangements, please contact us.

Best regards,
Property Management Team
`))

var latePaymentHTML = htmltemplate.Must(htmltemplate.New("late_payment").Funcs(htmltemplate.FuncMap(funcs)).Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2 style="background: #f44336; color: white; padding: 16px;">Payment Reminder</h2>
<p>Dear <strong>{{.To.Name}}</strong>,</p>
<p>This is a friendly reminder that your rent payment is overdue.</p>
<p><strong>Days Overdue:</strong> {{.DaysLate}}<br>
<strong>Amount Due:</strong> {{money .AmountDue}}</p>
<p style="background: #fff3cd; padding: 12px;">Please pay as soon as possible to avoid late fees.</p>
</body></html>
`))

var latePaymentSMS = template.Must(template.New("late_payment_sms").Funcs(funcs).Parse(
	`REMINDER: Dear {{first .To.Name}}, your rent is {{.DaysLate}} days overdue. Amount due: {{money .AmountDue}}. Please pay ASAP to avoid penalties.`))

func RenderLatePayment(n LatePayment) Message {
	return Message{
		Subject: fmt.Sprintf("URGENT: Rent Payment %d Days Overdue", n.DaysLate),
		Text:    render(latePaymentText, n),
		HTML:    renderHTML(latePaymentHTML, n),
		SMS:     render(latePaymentSMS, n),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// FormatMoney renders an amount with thousands separators: "KES 20,000.00".
func FormatMoney(m ledger.Money) string {
	s := m.Value.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	if m.Currency == "" {
		return out
	}
	return string(m.Currency) + " " + out
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func renderHTML(t *htmltemplate.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}
