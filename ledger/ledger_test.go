package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
)

func newTestLedger() (*ledger.DefaultLedger, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewLedger(mem), mem
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRecord_RejectsInvalidEntries(t *testing.T) {
	valid := charge(20000, day(2026, 3, 1))

	cases := map[string]func(e *ledger.Entry){
		"missing tenancy":          func(e *ledger.Entry) { e.TenancyID = "" },
		"unknown kind":             func(e *ledger.Entry) { e.Kind = "REFUND" },
		"zero amount":              func(e *ledger.Entry) { e.Amount = kes(0) },
		"negative amount":          func(e *ledger.Entry) { e.Amount = kes(-5) },
		"blank description":        func(e *ledger.Entry) { e.Description = "  " },
		"no transaction date":      func(e *ledger.Entry) { e.TransactionDate = time.Time{} },
		"payment method on charge": func(e *ledger.Entry) { e.PaymentMethod = ledger.MethodCash },
	}

	l, _ := newTestLedger()
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := valid
			mutate(&e)
			_, err := l.Record(context.Background(), e)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ledger.ErrInvalidEntry))
			assert.True(t, ledger.IsClientError(err))
		})
	}
}

func TestRecord_UnknownPaymentMethod(t *testing.T) {
	l, _ := newTestLedger()
	e := payment(100, day(2026, 3, 1))
	e.PaymentMethod = "BITCOIN"

	_, err := l.Record(context.Background(), e)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payment_method", verr.Field)
}

// =============================================================================
// RECORDING
// =============================================================================

func TestRecord_FillsDefaults(t *testing.T) {
	l, _ := newTestLedger()
	l.Now = func() time.Time { return day(2026, 3, 2) }

	e := charge(20000, time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC))
	e.Amount.Currency = ""

	got, err := l.Record(context.Background(), e)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, day(2026, 3, 2), got.CreatedAt)
	assert.Equal(t, day(2026, 3, 1), got.TransactionDate)
	assert.Equal(t, ledger.DefaultCurrency, got.Amount.Currency)
}

func TestRecord_DuplicateIdempotencyKey(t *testing.T) {
	// GIVEN: A rent charge for March already recorded
	// WHEN: The same key is recorded again
	// THEN: ErrDuplicateIdempotencyKey and only one entry exists
	l, mem := newTestLedger()
	ctx := context.Background()
	p := ledger.NewBillingPeriod(2026, time.March)

	e := charge(20000, p.Start())
	e.IdempotencyKey = ledger.RentIdempotencyKey("ten-1", p)

	_, err := l.Record(ctx, e)
	require.NoError(t, err)

	_, err = l.Record(ctx, e)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
	assert.True(t, ledger.IsConflict(err))

	entries, err := mem.Entries(ctx, "ten-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryAppend_ConcurrentSameKey(t *testing.T) {
	// GIVEN: Many goroutines appending the same idempotency key
	// THEN: Exactly one wins
	mem := store.NewMemory()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := charge(20000, day(2026, 3, 1))
			e.IdempotencyKey = "rent:ten-1:2026-03"
			errs <- mem.Append(ctx, e)
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)
}

func TestSummary(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	for _, e := range []ledger.Entry{
		charge(20000, day(2026, 3, 1)),
		payment(12000, day(2026, 3, 4)),
	} {
		_, err := l.Record(ctx, e)
		require.NoError(t, err)
	}

	s, err := l.Summary(ctx, "ten-1")
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(kes(8000)))
	assert.Equal(t, 2, s.EntryCount)
}

func TestRecord_RentChargeGetsPeriodKey(t *testing.T) {
	// GIVEN: A hand-entered CHARGE with March's rent description
	// WHEN: It is recorded, then recorded again under another key
	// THEN: It carries March's rent key and the second is a duplicate
	l, _ := newTestLedger()
	ctx := context.Background()
	p := ledger.NewBillingPeriod(2026, time.March)

	e := charge(20000, p.Start())
	e.Description = ledger.RentDescription(p)
	got, err := l.Record(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.RentIdempotencyKey("ten-1", p), got.IdempotencyKey)
	assert.Equal(t, "2026-03", got.PeriodKey)

	e.IdempotencyKey = "manual:ten-1:retry"
	_, err = l.Record(ctx, e)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
}

func TestRecord_RentChargeMatchesUnkeyedRow(t *testing.T) {
	// GIVEN: A March rent charge stored without a key
	// THEN: Recording March rent again is a duplicate
	l, mem := newTestLedger()
	ctx := context.Background()
	p := ledger.NewBillingPeriod(2026, time.March)

	legacy := charge(20000, p.Start())
	legacy.ID = "e-legacy"
	legacy.Description = ledger.RentDescription(p)
	require.NoError(t, mem.Append(ctx, legacy))

	legacy.ID = ""
	_, err := l.Record(ctx, legacy)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
}

func TestRecord_ReservedKeys(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	cases := map[string]func() ledger.Entry{
		"rent key on payment": func() ledger.Entry {
			e := payment(100, day(2026, 3, 2))
			e.IdempotencyKey = "rent:ten-1:2026-03"
			e.PeriodKey = "2026-03"
			return e
		},
		"rent key without period": func() ledger.Entry {
			e := charge(100, day(2026, 3, 2))
			e.IdempotencyKey = "rent:ten-1:2026-03"
			return e
		},
		"late fee key of another tenancy": func() ledger.Entry {
			e := charge(100, day(2026, 3, 2))
			e.IdempotencyKey = "latefee:ten-2:2026-03"
			e.PeriodKey = "2026-03"
			return e
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Record(ctx, build())
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "idempotency_key", verr.Field)
		})
	}

	fee := charge(1000, day(2026, 3, 20))
	fee.IdempotencyKey = "latefee:ten-1:2026-03"
	fee.PeriodKey = "2026-03"
	_, err := l.Record(ctx, fee)
	assert.NoError(t, err)
}

func TestFindChargeByDescription(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	p := ledger.NewBillingPeriod(2026, time.March)

	e := charge(20000, p.Start())
	e.Description = ledger.RentDescription(p)
	_, err := l.Record(ctx, e)
	require.NoError(t, err)

	// Payments with the same text don't count
	pay := payment(20000, day(2026, 3, 2))
	pay.Description = ledger.RentDescription(p.Next())
	_, err = l.Record(ctx, pay)
	require.NoError(t, err)

	found, err := l.FindChargeByDescription(ctx, "ten-1", "Rent payment for March 2026")
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := l.FindChargeByDescription(ctx, "ten-1", "Rent payment for April 2026")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// TENANCIES
// =============================================================================

func TestTenancy_IsActive(t *testing.T) {
	asOf := day(2026, 3, 15)
	moveOut := func(d time.Time) *time.Time { return &d }

	cases := []struct {
		name    string
		moveOut *time.Time
		want    bool
	}{
		{"no move-out", nil, true},
		{"moves out later", moveOut(day(2026, 4, 1)), true},
		{"moves out same day", moveOut(day(2026, 3, 15)), false},
		{"moved out earlier", moveOut(day(2026, 2, 28)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tn := ledger.Tenancy{ID: "t", MoveOutDate: tc.moveOut}
			assert.Equal(t, tc.want, tn.IsActive(asOf))
		})
	}
}

func TestMemory_MoveOut(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveUnit(ctx, ledger.Unit{ID: "u-1", UnitNumber: "1A", MonthlyRent: kes(20000)}))
	require.NoError(t, mem.SaveTenancy(ctx, ledger.Tenancy{
		ID: "ten-1", UnitID: "u-1", TenantName: "Amina", MonthlyRent: kes(20000), MoveInDate: day(2025, 1, 1),
	}))

	u, err := mem.GetUnit(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.UnitOccupied, u.Status)

	// Move-out before move-in is rejected
	_, err = mem.MoveOut(ctx, "ten-1", day(2024, 12, 1))
	assert.True(t, ledger.IsClientError(err))

	tn, err := mem.MoveOut(ctx, "ten-1", day(2026, 3, 31))
	require.NoError(t, err)
	require.NotNil(t, tn.MoveOutDate)

	u, err = mem.GetUnit(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.UnitVacant, u.Status)

	// Second move-out is rejected
	_, err = mem.MoveOut(ctx, "ten-1", day(2026, 4, 30))
	assert.True(t, errors.Is(err, ledger.ErrAlreadyMovedOut))

	_, err = mem.MoveOut(ctx, "ten-missing", day(2026, 4, 30))
	assert.True(t, ledger.IsNotFound(err))
}

func TestMemory_ListActiveTenancies(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	gone := day(2026, 2, 28)

	require.NoError(t, mem.SaveTenancy(ctx, ledger.Tenancy{ID: "a", TenantName: "A", MoveInDate: day(2025, 1, 1)}))
	require.NoError(t, mem.SaveTenancy(ctx, ledger.Tenancy{ID: "b", TenantName: "B", MoveInDate: day(2025, 6, 1), MoveOutDate: &gone}))
	require.NoError(t, mem.SaveTenancy(ctx, ledger.Tenancy{ID: "c", TenantName: "C", MoveInDate: day(2025, 9, 1)}))

	active, err := mem.ListActiveTenancies(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ledger.TenancyID("c"), active[0].ID)
	assert.Equal(t, ledger.TenancyID("a"), active[1].ID)

	all, err := mem.ListTenancies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
