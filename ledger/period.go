package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// BILLING PERIOD - One calendar month of rent
// =============================================================================

// BillingPeriod identifies the month a rent charge applies to. Internally it
// is a (year, month) pair; the human label ("March 2026") is only rendered
// for descriptions and display.
//
// Labels that don't parse as a month are kept as free text so callers can
// still charge against them; such periods have no calendar bounds.
type BillingPeriod struct {
	Year  int
	Month time.Month

	freeText string
}

// NewBillingPeriod returns the period for the given month.
func NewBillingPeriod(year int, month time.Month) BillingPeriod {
	return BillingPeriod{Year: year, Month: month}
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) BillingPeriod {
	return BillingPeriod{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod reads "March 2026", "Mar 2026" or "2026-03" (any case).
// Any other non-empty label becomes a free-text period.
func ParsePeriod(label string) (BillingPeriod, error) {
	s := strings.Join(strings.Fields(label), " ")
	if s == "" {
		return BillingPeriod{}, ErrEmptyPeriodLabel
	}
	for _, layout := range []string{"January 2006", "Jan 2006", "2006-01"} {
		if t, err := time.Parse(layout, titleCase(s)); err == nil {
			return PeriodOf(t), nil
		}
	}
	return BillingPeriod{freeText: s}, nil
}

// IsCalendar reports whether the period maps to a real calendar month.
func (p BillingPeriod) IsCalendar() bool { return p.freeText == "" && p.Year > 0 }

// Key is the stable, locale-independent identity of the period.
func (p BillingPeriod) Key() string {
	if !p.IsCalendar() {
		return "label:" + strings.ToLower(p.freeText)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Label is the human form used in descriptions, e.g. "March 2026".
func (p BillingPeriod) Label() string {
	if !p.IsCalendar() {
		return p.freeText
	}
	return p.Month.String() + " " + strconv.Itoa(p.Year)
}

func (p BillingPeriod) String() string { return p.Label() }

// Start returns the first day of the period.
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period.
func (p BillingPeriod) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Contains reports whether t falls within the period.
func (p BillingPeriod) Contains(t time.Time) bool {
	if !p.IsCalendar() {
		return false
	}
	d := Date(t)
	return !d.Before(p.Start()) && !d.After(p.End())
}

// ChargeDate is the transaction date for a charge in this period: the first
// day of the month, or asOf for free-text periods.
func (p BillingPeriod) ChargeDate(asOf time.Time) time.Time {
	if !p.IsCalendar() {
		return Date(asOf)
	}
	return p.Start()
}

func (p BillingPeriod) Next() BillingPeriod     { return PeriodOf(p.Start().AddDate(0, 1, 0)) }
func (p BillingPeriod) Previous() BillingPeriod { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

// PeriodOptions returns the months offered for charging: three before the
// current month, the current month and the two after it, oldest first.
func PeriodOptions(now time.Time) []BillingPeriod {
	current := PeriodOf(now)
	start := current.Previous().Previous().Previous()
	out := make([]BillingPeriod, 0, 6)
	for p := start; len(out) < 6; p = p.Next() {
		out = append(out, p)
	}
	return out
}

const rentDescriptionPrefix = "Rent payment for "

// RentDescription is the canonical description of a rent charge.
func RentDescription(p BillingPeriod) string {
	return rentDescriptionPrefix + p.Label()
}

// RentPeriodOf reports the period a CHARGE bills rent for when its
// description is the canonical rent description of that period.
func RentPeriodOf(e Entry) (BillingPeriod, bool) {
	if e.Kind != KindCharge {
		return BillingPeriod{}, false
	}
	desc := strings.TrimSpace(e.Description)
	label, ok := strings.CutPrefix(desc, rentDescriptionPrefix)
	if !ok {
		return BillingPeriod{}, false
	}
	p, err := ParsePeriod(label)
	if err != nil || RentDescription(p) != desc {
		return BillingPeriod{}, false
	}
	return p, true
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
