package rent_test

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
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/session"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func kes(n int64) ledger.Money { return ledger.NewMoney(n, ledger.CurrencyKES) }

func tenancy(id, name string, rentKES int64) ledger.Tenancy {
	return ledger.Tenancy{
		ID:          ledger.TenancyID(id),
		UnitID:      ledger.UnitID("u-" + id),
		UnitLabel:   "Riverside - Unit " + id,
		TenantName:  name,
		Email:       id + "@example.com",
		MonthlyRent: kes(rentKES),
		MoveInDate:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// seedThree loads the three-tenancy portfolio: 20000, 25000 and 15000 KES.
func seedThree(t *testing.T, repo ledger.Repository) {
	t.Helper()
	ctx := context.Background()
	for _, tn := range []ledger.Tenancy{
		tenancy("t1", "Amina Otieno", 20000),
		tenancy("t2", "Brian Mwangi", 25000),
		tenancy("t3", "Cynthia Njeri", 15000),
	} {
		require.NoError(t, repo.SaveTenancy(ctx, tn))
	}
}

func newEngine(repo ledger.Repository, n notify.Notifier) *rent.Engine {
	e := rent.NewEngine(repo, n)
	e.Now = func() time.Time { return march10 }
	return e
}

func opts() rent.Options {
	return rent.Options{Session: session.System()}
}

func chargesFor(t *testing.T, repo ledger.Repository, id ledger.TenancyID) []ledger.Entry {
	t.Helper()
	entries, err := repo.Entries(context.Background(), id)
	require.NoError(t, err)
	var out []ledger.Entry
	for _, e := range entries {
		if e.Kind == ledger.KindCharge {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// CORE SCENARIOS
// =============================================================================

func TestChargeAll_ThreeTenancies(t *testing.T) {
	// GIVEN: Three active tenancies, no prior charges
	// WHEN: Charging rent for March 2026
	// THEN: 3 charged, total 60000, each described "Rent payment for March 2026"
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)

	result, err := engine.ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Charged)
	assert.Equal(t, 0, result.Skipped)
	assert.True(t, result.TotalAmount.Equal(kes(60000)))
	assert.Empty(t, result.Errors)
	assert.True(t, result.Success())

	for _, id := range []ledger.TenancyID{"t1", "t2", "t3"} {
		charges := chargesFor(t, repo, id)
		require.Len(t, charges, 1, "tenancy %s", id)
		c := charges[0]
		assert.Equal(t, "Rent payment for March 2026", c.Description)
		assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), c.TransactionDate)
		assert.Equal(t, "2026-03", c.PeriodKey)
		assert.Equal(t, "rent:"+string(id)+":2026-03", c.IdempotencyKey)
		assert.Equal(t, "system", c.CreatedBy)
	}
}

func TestChargeAll_RerunSkips(t *testing.T) {
	// GIVEN: March already charged
	// WHEN: Charging March again
	// THEN: Everything is skipped and nothing new is written
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)
	ctx := context.Background()

	_, err := engine.ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	result, err := engine.ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Charged)
	assert.Equal(t, 3, result.Skipped)
	assert.True(t, result.TotalAmount.IsZero())
	assert.Empty(t, result.Errors)
	assert.Len(t, chargesFor(t, repo, "t1"), 1)
}

func TestChargeAll_OnePreviouslyCharged(t *testing.T) {
	// GIVEN: Amina (20000) already charged for March by hand
	// THEN: 2 charged, 1 skipped, total 40000
	repo := store.NewMemory()
	seedThree(t, repo)
	ctx := context.Background()

	_, err := ledger.NewLedger(repo).Record(ctx, ledger.Entry{
		TenancyID:       "t1",
		Kind:            ledger.KindCharge,
		Amount:          kes(20000),
		TransactionDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		Description:     "Rent payment for March 2026",
	})
	require.NoError(t, err)

	result, err := newEngine(repo, nil).ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Charged)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.TotalAmount.Equal(kes(40000)))
	assert.Empty(t, result.Errors)
	assert.Equal(t, rent.OutcomeSkipped, result.Outcomes[indexOf(result, "t1")].Outcome)
}

func TestChargeAll_NoActiveTenancies(t *testing.T) {
	result, err := newEngine(store.NewMemory(), nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Charged)
	assert.Equal(t, 0, result.Skipped)
	assert.True(t, result.TotalAmount.IsZero())
	assert.NotNil(t, result.Errors)
	assert.Empty(t, result.Errors)
}

func TestChargeAll_EmptyLabel(t *testing.T) {
	_, err := newEngine(store.NewMemory(), nil).ChargeAll(context.Background(), "  ", opts())
	assert.True(t, errors.Is(err, ledger.ErrEmptyPeriodLabel))
}

func TestChargeAll_SpellingsShareIdempotency(t *testing.T) {
	// GIVEN: March charged as "March 2026"
	// WHEN: Charged again as "2026-03"
	// THEN: Skipped, same month
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)
	ctx := context.Background()

	_, err := engine.ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	result, err := engine.ChargeAll(ctx, "2026-03", opts())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Skipped)
}

func TestChargeAll_FreeTextPeriod(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)

	result, err := newEngine(repo, nil).ChargeAll(context.Background(), "Q1 Service Charge", opts())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Charged)

	c := chargesFor(t, repo, "t2")
	require.Len(t, c, 1)
	assert.Equal(t, "Rent payment for Q1 Service Charge", c[0].Description)
	assert.Equal(t, ledger.Date(march10), c[0].TransactionDate)
}

func TestChargeAll_MovedOutTenancyNotCharged(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	ctx := context.Background()
	_, err := repo.MoveOut(ctx, "t3", time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	result, err := newEngine(repo, nil).ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Charged)
	assert.True(t, result.TotalAmount.Equal(kes(45000)))
	assert.Empty(t, chargesFor(t, repo, "t3"))
}

// =============================================================================
// FAILURES
// =============================================================================

// faultyRepo wraps a repository and injects failures.
type faultyRepo struct {
	ledger.Repository

	failAppendFor ledger.TenancyID
	failList      bool
	blindLookup   bool // FindChargeByDescription never finds anything
}

func (f *faultyRepo) Append(ctx context.Context, e ledger.Entry) error {
	if e.TenancyID == f.failAppendFor {
		return errors.New("disk full")
	}
	return f.Repository.Append(ctx, e)
}

func (f *faultyRepo) ListActiveTenancies(ctx context.Context, asOf time.Time) ([]ledger.Tenancy, error) {
	if f.failList {
		return nil, errors.New("connection refused")
	}
	return f.Repository.ListActiveTenancies(ctx, asOf)
}

func (f *faultyRepo) FindChargeByDescription(ctx context.Context, id ledger.TenancyID, d string) (*ledger.Entry, error) {
	if f.blindLookup {
		return nil, nil
	}
	return f.Repository.FindChargeByDescription(ctx, id, d)
}

func (f *faultyRepo) Exists(ctx context.Context, key string) (bool, error) {
	if f.blindLookup {
		return false, nil
	}
	return f.Repository.Exists(ctx, key)
}

func TestChargeAll_PartialFailureIsolated(t *testing.T) {
	// GIVEN: Three tenancies, creation fails for Brian (25000)
	// THEN: The other two are charged; one error naming Brian
	mem := store.NewMemory()
	seedThree(t, mem)
	repo := &faultyRepo{Repository: mem, failAppendFor: "t2"}

	result, err := newEngine(repo, nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Charged)
	assert.True(t, result.TotalAmount.Equal(kes(35000)))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Brian Mwangi: disk full", result.Errors[0])
	assert.False(t, result.Success())

	// Brian is retried on the next run
	repo.failAppendFor = ""
	again, err := newEngine(repo, nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Charged)
	assert.Equal(t, 2, again.Skipped)
}

func TestChargeAll_StoreUnavailable(t *testing.T) {
	mem := store.NewMemory()
	seedThree(t, mem)
	repo := &faultyRepo{Repository: mem, failList: true}

	result, err := newEngine(repo, nil).ChargeAll(context.Background(), "March 2026", opts())
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ledger.ErrStoreUnavailable))

	var sue *ledger.StoreUnavailableError
	require.ErrorAs(t, err, &sue)
	assert.Equal(t, "list active tenancies", sue.Op)
}

func TestChargeAll_UniquenessConflictIsSkip(t *testing.T) {
	// GIVEN: A charge already exists but the existence check misses it,
	//        as when two runs race past the check
	// THEN: The store's uniqueness conflict is reported as skipped
	mem := store.NewMemory()
	seedThree(t, mem)
	_, err := newEngine(mem, nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	repo := &faultyRepo{Repository: mem, blindLookup: true}
	result, err := newEngine(repo, nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Charged)
	assert.Equal(t, 3, result.Skipped)
	assert.Empty(t, result.Errors)
	assert.Len(t, chargesFor(t, mem, "t1"), 1)
}

func TestChargeAll_ZeroRentIsTenancyError(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	require.NoError(t, repo.SaveTenancy(context.Background(), tenancy("t4", "Dan Free", 0)))

	result, err := newEngine(repo, nil).ChargeAll(context.Background(), "March 2026", opts())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Charged)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Dan Free: amount")
}

func TestChargeAll_ErrorsInTenancyOrder(t *testing.T) {
	repo := store.NewMemory()
	ctx := context.Background()
	// Newest move-in is listed first
	for i, name := range []string{"Zed", "Yusuf", "Xena", "Wambui"} {
		tn := tenancy(name, name, 0)
		tn.MoveInDate = time.Date(2025, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.SaveTenancy(ctx, tn))
	}

	engine := newEngine(repo, nil)
	engine.Concurrency = 4
	result, err := engine.ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)

	require.Len(t, result.Errors, 4)
	for i, name := range []string{"Wambui", "Xena", "Yusuf", "Zed"} {
		assert.Contains(t, result.Errors[i], name+":")
	}
}

// =============================================================================
// DRY RUN, LOCKING, CANCELLATION
// =============================================================================

func TestChargeAll_DryRunWritesNothing(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	rec := &recordingNotifier{}

	o := opts()
	o.DryRun = true
	o.Notify = true
	result, err := newEngine(repo, rec).ChargeAll(context.Background(), "March 2026", o)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 3, result.Charged)
	assert.True(t, result.TotalAmount.Equal(kes(60000)))
	assert.False(t, result.NotificationsSent)
	for _, o := range result.Outcomes {
		assert.Equal(t, rent.OutcomeWouldCharge, o.Outcome)
	}
	assert.Empty(t, chargesFor(t, repo, "t1"))
	assert.Empty(t, rec.charged())
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func TestChargeAll_LockHeld(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)
	engine.Locker = heldLocker{}

	_, err := engine.ChargeAll(context.Background(), "March 2026", opts())
	assert.True(t, errors.Is(err, rent.ErrChargeInProgress))
	assert.Empty(t, chargesFor(t, repo, "t1"))
}

func TestChargeAll_ConcurrentRunsNeverDoubleCharge(t *testing.T) {
	// GIVEN: Ten admins clicking "Charge Rent" at once
	// THEN: Each tenancy is charged exactly once
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	charged := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.ChargeAll(context.Background(), "March 2026", opts())
			if err != nil {
				assert.True(t, errors.Is(err, rent.ErrChargeInProgress))
				return
			}
			mu.Lock()
			charged += result.Charged
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, charged)
	for _, id := range []ledger.TenancyID{"t1", "t2", "t3"} {
		assert.Len(t, chargesFor(t, repo, id), 1)
	}
}

func TestChargeAll_CancelledContextStillFinishes(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newEngine(repo, nil).ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Charged)
}

func TestLocalLocker(t *testing.T) {
	l := rent.NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.RentCharged
	err  error
}

func (r *recordingNotifier) RentCharged(_ context.Context, n notify.RentCharged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) PaymentReceived(context.Context, notify.PaymentReceived) error {
	return nil
}

func (r *recordingNotifier) LateFee(context.Context, notify.LateFee) error { return nil }

func (r *recordingNotifier) LatePayment(context.Context, notify.LatePayment) error { return nil }

func (r *recordingNotifier) charged() []notify.RentCharged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.RentCharged(nil), r.sent...)
}

func TestChargeAll_NotifiesChargedTenants(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	rec := &recordingNotifier{}
	engine := newEngine(repo, rec)
	ctx := context.Background()

	o := opts()
	o.Notify = true
	result, err := engine.ChargeAll(ctx, "March 2026", o)
	require.NoError(t, err)
	assert.True(t, result.NotificationsSent)

	sent := rec.charged()
	require.Len(t, sent, 3)
	assert.Equal(t, "March 2026", sent[0].Period)
	assert.True(t, sent[0].Balance.Equal(sent[0].Amount))

	// Skipped tenancies aren't notified again
	_, err = engine.ChargeAll(ctx, "March 2026", o)
	require.NoError(t, err)
	assert.Len(t, rec.charged(), 3)
}

func TestChargeAll_NotificationFailureNotAnError(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	rec := &recordingNotifier{err: errors.New("smtp down")}

	o := opts()
	o.Notify = true
	result, err := newEngine(repo, rec).ChargeAll(context.Background(), "March 2026", o)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, result.Charged)
}

// =============================================================================
// SINGLE TENANCY
// =============================================================================

func TestChargeTenancy(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)
	ctx := context.Background()

	// Defaults to the current month and monthly rent
	out, err := engine.ChargeTenancy(ctx, "t1", rent.ChargeRequest{Session: session.System()})
	require.NoError(t, err)
	assert.Equal(t, rent.OutcomeCharged, out.Outcome)
	assert.True(t, out.Amount.Equal(kes(20000)))

	// Same month again is a skip
	out, err = engine.ChargeTenancy(ctx, "t1", rent.ChargeRequest{Period: "March 2026"})
	require.NoError(t, err)
	assert.Equal(t, rent.OutcomeSkipped, out.Outcome)

	// Amount override for another month
	amount := kes(5000)
	out, err = engine.ChargeTenancy(ctx, "t1", rent.ChargeRequest{Period: "April 2026", Amount: &amount})
	require.NoError(t, err)
	assert.True(t, out.Amount.Equal(kes(5000)))

	// The portfolio run then skips Amina for March
	result, err := engine.ChargeAll(ctx, "March 2026", opts())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Charged)
	assert.Equal(t, 1, result.Skipped)
}

func TestChargeTenancy_Errors(t *testing.T) {
	repo := store.NewMemory()
	seedThree(t, repo)
	engine := newEngine(repo, nil)
	ctx := context.Background()

	_, err := engine.ChargeTenancy(ctx, "missing", rent.ChargeRequest{})
	assert.True(t, ledger.IsNotFound(err))

	zero := kes(0)
	_, err = engine.ChargeTenancy(ctx, "t2", rent.ChargeRequest{Amount: &zero})
	assert.True(t, ledger.IsClientError(err))

	_, err = repo.MoveOut(ctx, "t3", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = engine.ChargeTenancy(ctx, "t3", rent.ChargeRequest{})
	assert.True(t, ledger.IsClientError(err))
}

func indexOf(r *rent.ChargingResult, id ledger.TenancyID) int {
	for i, o := range r.Outcomes {
		if o.TenancyID == id {
			return i
		}
	}
	return -1
}
