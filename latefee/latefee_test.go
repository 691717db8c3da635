package latefee_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
	"github.com/warp/rent-ledger/session"
)

func kes(n int64) ledger.Money { return ledger.NewMoney(n, ledger.CurrencyKES) }

func day(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

// setup creates a tenancy charged rent on March 1 and paying paid of it.
func setup(t *testing.T, monthlyRent, paid int64) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveTenancy(ctx, ledger.Tenancy{
		ID: "t1", TenantName: "Amina Otieno", MonthlyRent: kes(monthlyRent), MoveInDate: day(time.January, 1),
	}))

	l := ledger.NewLedger(mem)
	_, err := l.Record(ctx, ledger.Entry{
		TenancyID: "t1", Kind: ledger.KindCharge, Amount: kes(monthlyRent),
		TransactionDate: day(time.March, 1), Description: "Rent payment for March 2026",
	})
	require.NoError(t, err)
	if paid > 0 {
		_, err = l.Record(ctx, ledger.Entry{
			TenancyID: "t1", Kind: ledger.KindPayment, Amount: kes(paid),
			TransactionDate: day(time.March, 2), Description: "M-Pesa", PaymentMethod: ledger.MethodMpesa,
		})
		require.NoError(t, err)
	}
	return mem
}

func run(t *testing.T, mem *store.Memory, asOf time.Time, dryRun bool) *latefee.Result {
	t.Helper()
	a := latefee.NewAssessor(mem, nil, latefee.DefaultPolicy())
	res, err := a.Apply(context.Background(), asOf, latefee.Options{Session: session.System(), DryRun: dryRun})
	require.NoError(t, err)
	return res
}

// =============================================================================
// FEE CALCULATION
// =============================================================================

func TestPolicyFee(t *testing.T) {
	p := latefee.DefaultPolicy()

	assert.True(t, p.Fee(kes(20000)).Equal(kes(1000)), "5% of 20000")
	assert.True(t, p.Fee(kes(8000)).Equal(kes(500)), "minimum applies")

	p.Percent = decimal.RequireFromString("2.5")
	assert.Equal(t, "KES 625.00", p.Fee(kes(25000)).String())
}

func TestPolicyValidate(t *testing.T) {
	p := latefee.DefaultPolicy()
	p.GraceDays = -1
	assert.True(t, ledger.IsClientError(p.Validate()))
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_OverdueTenancyCharged(t *testing.T) {
	// GIVEN: March rent of 20000 unpaid
	// WHEN: Assessed on March 10 (9 days after the charge)
	// THEN: One late fee of 1000 described with the days overdue
	mem := setup(t, 20000, 0)

	res := run(t, mem, day(time.March, 10), false)

	assert.Equal(t, 1, res.Applied)
	assert.True(t, res.Total.Equal(kes(1000)))
	require.Len(t, res.Items, 1)
	assert.Equal(t, 9, res.Items[0].DaysOverdue)

	entries, err := mem.Entries(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	fee := entries[1]
	assert.Equal(t, "Late Fee for March 2026 (9 days overdue)", fee.Description)
	assert.Equal(t, "latefee:t1:2026-03", fee.IdempotencyKey)
	assert.Equal(t, "Auto-generated late fee: 5% of rent", fee.Notes)
}

func TestApply_OncePerMonth(t *testing.T) {
	mem := setup(t, 20000, 0)

	run(t, mem, day(time.March, 10), false)
	again := run(t, mem, day(time.March, 11), false)

	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 1, again.Skipped)

	entries, err := mem.Entries(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// A new month may carry a new fee
	april := run(t, mem, day(time.April, 2), false)
	assert.Equal(t, 1, april.Applied)
}

func TestApply_WithinGrace(t *testing.T) {
	mem := setup(t, 20000, 0)
	res := run(t, mem, day(time.March, 6), false) // 5 days
	assert.Equal(t, 0, res.Applied)
	assert.Empty(t, res.Items)
}

func TestApply_PaidUp(t *testing.T) {
	mem := setup(t, 20000, 20000)
	res := run(t, mem, day(time.March, 20), false)
	assert.Equal(t, 0, res.Applied)
	assert.Empty(t, res.Items)
}

func TestApply_DryRun(t *testing.T) {
	mem := setup(t, 20000, 5000)
	res := run(t, mem, day(time.March, 10), true)

	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, latefee.OutcomeWouldApply, res.Items[0].Outcome)
	assert.True(t, res.Items[0].Balance.Equal(kes(15000)))

	entries, err := mem.Entries(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type brokenRepo struct{ ledger.Repository }

func (brokenRepo) ListActiveTenancies(context.Context, time.Time) ([]ledger.Tenancy, error) {
	return nil, errors.New("db down")
}

func TestApply_StoreUnavailable(t *testing.T) {
	a := latefee.NewAssessor(brokenRepo{store.NewMemory()}, nil, latefee.DefaultPolicy())
	_, err := a.Apply(context.Background(), day(time.March, 10), latefee.Options{})
	assert.True(t, errors.Is(err, ledger.ErrStoreUnavailable))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 9, latefee.DaysBetween(day(time.March, 1), time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, 0, latefee.DaysBetween(day(time.March, 1), day(time.March, 1)))
}
