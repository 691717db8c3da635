/*
Package seed loads demo portfolios into a ledger.Repository.

AVAILABLE SCENARIOS:
  small: Three active tenancies at 20000, 25000 and 15000 KES, no history
  mixed: The same three plus a moved-out tenancy, with last month's rent
         charged and a mix of full, partial and missing payments

Dates are relative to asOf so a freshly loaded scenario always has
"last month" behind it and "this month" still to charge.

Loading is idempotent: units and tenancies are upserts, rent charges use
the rent engine's own keys and payments carry seed:<scenario>:... keys, so
loading the same scenario twice leaves the ledger unchanged.
*/
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/session"
)

var ErrUnknownScenario = errors.New("unknown scenario")

type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var Scenarios = []Scenario{
	{
		ID:          "small",
		Name:        "Small Building",
		Description: "Three active tenancies (20,000 / 25,000 / 15,000 KES), nothing charged yet",
	},
	{
		ID:          "mixed",
		Name:        "Mixed Portfolio",
		Description: "Active and moved-out tenancies with last month charged and partly paid",
	},
}

// Loaded reports what a scenario created.
type Loaded struct {
	Scenario  Scenario
	Units     int
	Tenancies int
	Entries   int
}

// Find returns the scenario with id.
func Find(id string) (Scenario, error) {
	for _, s := range Scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
}

// Load writes scenario id into repo.
func Load(ctx context.Context, repo ledger.Repository, id string, asOf time.Time) (*Loaded, error) {
	sc, err := Find(id)
	if err != nil {
		return nil, err
	}
	l := &loader{repo: repo, ledger: ledger.NewLedger(repo), scenario: sc, out: &Loaded{Scenario: sc}}

	switch id {
	case "small":
		err = l.small(ctx, asOf)
	case "mixed":
		err = l.mixed(ctx, asOf)
	}
	if err != nil {
		return nil, fmt.Errorf("seed.Load %s: %w", id, err)
	}
	return l.out, nil
}

// =============================================================================
// SCENARIOS
// =============================================================================

type resident struct {
	tenancy ledger.TenancyID
	unit    ledger.UnitID
	number  string
	name    string
	email   string
	phone   string
	rent    int64
}

var riverside = []resident{
	{tenancy: "ten-amina", unit: "unit-2b", number: "2B", name: "Amina Otieno", email: "amina.otieno@example.com", phone: "+254700000001", rent: 20000},
	{tenancy: "ten-brian", unit: "unit-3a", number: "3A", name: "Brian Mwangi", email: "brian.mwangi@example.com", phone: "+254700000002", rent: 25000},
	{tenancy: "ten-cynthia", unit: "unit-1c", number: "1C", name: "Cynthia Wanjiru", email: "", phone: "+254700000003", rent: 15000},
}

const building = "Riverside Apartments"

func (l *loader) small(ctx context.Context, asOf time.Time) error {
	moveIn := ledger.PeriodOf(asOf).Previous().Previous().Start()
	for _, r := range riverside {
		if err := l.house(ctx, r, moveIn, nil); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) mixed(ctx context.Context, asOf time.Time) error {
	if err := l.small(ctx, asOf); err != nil {
		return err
	}

	current := ledger.PeriodOf(asOf)
	last := current.Previous()

	// David lived in 4D for half a year and left at the end of last month
	david := resident{tenancy: "ten-david", unit: "unit-4d", number: "4D", name: "David Kamau", email: "david.kamau@example.com", rent: 18000}
	moveOut := last.End()
	if err := l.house(ctx, david, last.Start().AddDate(0, -5, 0), &moveOut); err != nil {
		return err
	}
	if err := l.chargeRent(ctx, david, last); err != nil {
		return err
	}
	if err := l.payment(ctx, david, 10000, last.Start().AddDate(0, 0, 4), ledger.MethodBankTransfer, "BT-4471"); err != nil {
		return err
	}

	// Last month: Amina paid in full, Brian in part, Cynthia not at all
	for _, r := range riverside {
		if err := l.chargeRent(ctx, r, last); err != nil {
			return err
		}
	}
	if err := l.payment(ctx, riverside[0], 20000, last.Start().AddDate(0, 0, 2), ledger.MethodMpesa, "QK7H2M1"); err != nil {
		return err
	}
	return l.payment(ctx, riverside[1], 15000, last.Start().AddDate(0, 0, 6), ledger.MethodCash, "")
}

// =============================================================================
// LOADER
// =============================================================================

type loader struct {
	repo     ledger.Repository
	ledger   ledger.Ledger
	scenario Scenario
	out      *Loaded
}

func (l *loader) house(ctx context.Context, r resident, moveIn time.Time, moveOut *time.Time) error {
	unit := ledger.Unit{
		ID:           r.unit,
		BuildingName: building,
		UnitNumber:   r.number,
		MonthlyRent:  ledger.NewMoney(r.rent, ledger.DefaultCurrency),
		Status:       ledger.UnitVacant,
	}
	if err := l.repo.SaveUnit(ctx, unit); err != nil {
		return err
	}
	l.out.Units++

	t := ledger.Tenancy{
		ID:          r.tenancy,
		UnitID:      r.unit,
		UnitLabel:   unit.Label(),
		TenantName:  r.name,
		Email:       r.email,
		Phone:       r.phone,
		MonthlyRent: unit.MonthlyRent,
		Deposit:     unit.MonthlyRent,
		MoveInDate:  ledger.Date(moveIn),
		MoveOutDate: moveOut,
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := l.repo.SaveTenancy(ctx, t); err != nil {
		return err
	}
	l.out.Tenancies++
	return nil
}

// chargeRent posts the same charge the rent engine would, so a later charge run
// for that period skips it.
func (l *loader) chargeRent(ctx context.Context, r resident, period ledger.BillingPeriod) error {
	t, err := l.repo.GetTenancy(ctx, r.tenancy)
	if err != nil {
		return err
	}
	return l.record(ctx, rent.RentCharge(*t, period, period.Start(), session.System()))
}

func (l *loader) payment(ctx context.Context, r resident, amount int64, date time.Time, method ledger.PaymentMethod, ref string) error {
	return l.record(ctx, ledger.Entry{
		TenancyID:       r.tenancy,
		Kind:            ledger.KindPayment,
		Amount:          ledger.NewMoney(amount, ledger.DefaultCurrency),
		TransactionDate: date,
		Description:     "Rent payment received",
		PaymentMethod:   method,
		ReferenceNumber: ref,
		IdempotencyKey:  fmt.Sprintf("seed:%s:payment:%s:%s", l.scenario.ID, r.tenancy, date.Format("20060102")),
		CreatedBy:       session.System().Actor(),
	})
}

func (l *loader) record(ctx context.Context, e ledger.Entry) error {
	_, err := l.ledger.Record(ctx, e)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		return nil
	}
	if err != nil {
		return err
	}
	l.out.Entries++
	return nil
}
