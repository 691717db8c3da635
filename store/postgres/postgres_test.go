package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/store/postgres"
)

var (
	entryCols   = []string{"id", "tenancy_id", "kind", "amount", "currency", "transaction_date", "description", "payment_method", "reference_number", "notes", "period_key", "idempotency_key", "created_by", "created_at"}
	tenancyCols = []string{"id", "unit_id", "unit_label", "tenant_name", "email", "phone", "monthly_rent", "deposit", "currency", "move_in_date", "move_out_date", "created_at"}
)

func newMock(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return postgres.NewStore(db), mock
}

func day(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

func rentCharge() ledger.Entry {
	return ledger.Entry{
		ID: "e1", TenancyID: "t1", Kind: ledger.KindCharge,
		Amount:          ledger.NewMoney(20000, ledger.CurrencyKES),
		TransactionDate: day(time.March, 1), Description: "Rent payment for March 2026",
		PeriodKey: "2026-03", IdempotencyKey: "rent:t1:2026-03",
		CreatedBy: "system", CreatedAt: day(time.March, 10),
	}
}

func TestAppend(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e1", "t1", "CHARGE", "20000", "KES", day(time.March, 1), "Rent payment for March 2026",
				nil, nil, nil, "2026-03", "rent:t1:2026-03", "system", day(time.March, 10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.Append(context.Background(), rentCharge()))
	})

	t.Run("ConflictIsDuplicate", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Append(context.Background(), rentCharge())
		assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
	})

	t.Run("DriverError", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(errors.New("connection reset"))

		err := store.Append(context.Background(), rentCharge())
		require.Error(t, err)
		assert.False(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestEntries(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE tenancy_id = \\$1").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", "t1", "CHARGE", "20000.00", "KES", day(time.March, 1), "Rent payment for March 2026", nil, nil, "Auto-generated rent charge for March 2026", "2026-03", "rent:t1:2026-03", "system", day(time.March, 10)).
			AddRow("e2", "t1", "PAYMENT", "5000.00", "KES", day(time.March, 4), "M-Pesa", "MPESA", "QX12", nil, nil, nil, "u-1", day(time.March, 4)))

	entries, err := store.Entries(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.MethodMpesa, entries[1].PaymentMethod)
	assert.Equal(t, "KES 15000.00", ledger.ComputeBalance(entries).String())
}

func TestFindChargeByDescription_None(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").
		WithArgs("t1", "Rent payment for March 2026").
		WillReturnRows(sqlmock.NewRows(entryCols))

	found, err := store.FindChargeByDescription(context.Background(), "t1", "Rent payment for March 2026")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestExists(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("rent:t1:2026-03").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "rent:t1:2026-03")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListActiveTenancies(t *testing.T) {
	store, mock := newMock(t)
	asOf := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE move_out_date IS NULL OR move_out_date > \\$1").
		WithArgs(day(time.March, 10)).
		WillReturnRows(sqlmock.NewRows(tenancyCols).
			AddRow("t2", "u2", "Riverside - Unit 3A", "Brian Mwangi", "", "", "25000.00", "25000.00", "KES", day(time.February, 1), nil, day(time.February, 1)).
			AddRow("t1", "u1", "Riverside - Unit 2B", "Amina Otieno", "amina@example.com", "", "20000.00", "0", "KES", day(time.January, 1), day(time.March, 31), day(time.January, 1)))

	tenancies, err := store.ListActiveTenancies(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, tenancies, 2)
	assert.Equal(t, "Brian Mwangi", tenancies[0].TenantName)
	assert.Nil(t, tenancies[0].MoveOutDate)
	require.NotNil(t, tenancies[1].MoveOutDate)
	assert.True(t, tenancies[1].IsActive(asOf))
}

func TestListActiveTenancies_StoreDown(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("FROM tenancies").WillReturnError(errors.New("too many connections"))

	_, err := store.ListActiveTenancies(context.Background(), day(time.March, 10))
	assert.Error(t, err)
}

func TestGetTenancy_NotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("FROM tenancies WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tenancyCols))

	_, err := store.GetTenancy(context.Background(), "missing")
	assert.True(t, errors.Is(err, ledger.ErrTenancyNotFound))
}

func TestMoveOut(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(tenancyCols).
			AddRow("t1", "u1", "Riverside - Unit 2B", "Amina Otieno", "", "", "20000.00", "0", "KES", day(time.January, 1), nil, day(time.January, 1)))
	mock.ExpectExec("UPDATE tenancies SET move_out_date").
		WithArgs(day(time.April, 30), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE units SET status").
		WithArgs("VACANT", "u1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	moved, err := store.MoveOut(context.Background(), "t1", day(time.April, 30))
	require.NoError(t, err)
	require.NotNil(t, moved.MoveOutDate)
	assert.True(t, moved.MoveOutDate.Equal(day(time.April, 30)))
}

func TestMoveOut_Twice(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(tenancyCols).
			AddRow("t1", "u1", "", "Amina Otieno", "", "", "20000.00", "0", "KES", day(time.January, 1), day(time.March, 31), day(time.January, 1)))
	mock.ExpectRollback()

	_, err := store.MoveOut(context.Background(), "t1", day(time.April, 30))
	assert.True(t, errors.Is(err, ledger.ErrAlreadyMovedOut))
}
