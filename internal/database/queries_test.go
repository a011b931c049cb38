package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipguardian/internal/models"
)

var paymentRowColumns = []string{
	"seq", "payment_id", "id_origin", "owner_address", "source_chain_id", "dest_chain_id",
	"amount", "token", "recipient", "status", "settlement", "source_tx_hash", "deep_link",
	"lookup_attempts", "last_error", "next_check_at", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewDB(conn), mock
}

func addPaymentRow(rows *sqlmock.Rows, seq int64, id string, status models.PaymentStatus, at time.Time) *sqlmock.Rows {
	return rows.AddRow(
		seq, id, "bridge", "", int64(1315), int64(1),
		"1000000000000000000", "0x1514000000000000000000000000000000000000",
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e", string(status), "optimistic", nil,
		"https://app.debridge.finance/?inputChain=1315", 0, nil, at, at, at,
	)
}

func TestDB_CreatePayment(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	p := newPendingPayment("order-1")
	require.NoError(t, db.CreatePayment(context.Background(), p))
	assert.Equal(t, int64(7), p.Seq)
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_CreatePaymentDuplicate(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key value"})

	err := db.CreatePayment(context.Background(), newPendingPayment("order-1"))
	assert.True(t, errors.Is(err, ErrDuplicatePayment))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_GetPayment(t *testing.T) {
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE payment_id = $1")).
			WithArgs("order-1").
			WillReturnRows(addPaymentRow(sqlmock.NewRows(paymentRowColumns), 1, "order-1", models.PaymentStatusPending, now))

		p, err := db.GetPayment(context.Background(), "order-1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "order-1", p.PaymentID)
		assert.Equal(t, models.IDOriginBridge, p.IDOrigin)
		assert.Equal(t, models.PaymentStatusPending, p.Status)
		assert.Nil(t, p.SourceTxHash)
		assert.Equal(t, int64(1315), p.SourceChainID)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE payment_id = $1")).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		p, err := db.GetPayment(context.Background(), "nope")
		assert.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestDB_ListPaymentsBuildsFilters(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		filter models.PaymentFilter
		query  string
		args   []interface{}
	}{
		{
			name:   "no filter",
			filter: models.PaymentFilter{},
			query:  "FROM payments ORDER BY created_at DESC, seq DESC",
		},
		{
			name:   "status and owner",
			filter: models.PaymentFilter{Status: models.PaymentStatusPending, OwnerAddress: "0xabc"},
			query:  "WHERE status = $1 AND LOWER(owner_address) = LOWER($2) ORDER BY created_at DESC, seq DESC",
			args:   []interface{}{"pending", "0xabc"},
		},
		{
			name:   "paged",
			filter: models.PaymentFilter{Limit: 10, Offset: 20},
			query:  "ORDER BY created_at DESC, seq DESC LIMIT $1 OFFSET $2",
			args:   []interface{}{10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			rows := sqlmock.NewRows(paymentRowColumns)
			addPaymentRow(rows, 2, "b", models.PaymentStatusPending, now)
			addPaymentRow(rows, 1, "a", models.PaymentStatusPending, now)

			exp := mock.ExpectQuery(regexp.QuoteMeta(tt.query))
			if len(tt.args) > 0 {
				driverArgs := make([]driver.Value, 0, len(tt.args))
				for _, a := range tt.args {
					driverArgs = append(driverArgs, matchArg{a})
				}
				exp = exp.WithArgs(driverArgs...)
			}
			exp.WillReturnRows(rows)

			payments, err := db.ListPayments(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, payments, 2)
			assert.Equal(t, "b", payments[0].PaymentID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDB_UpdatePaymentStatusOnlyFromPending(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending row updated", 1, true},
		{"terminal or missing row untouched", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(regexp.QuoteMeta("WHERE payment_id = $3 AND status = 'pending'")).
				WithArgs("confirmed", "observed", "order-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			applied, err := db.UpdatePaymentStatus(context.Background(), "order-1", models.PaymentStatusConfirmed, models.SettlementObserved)
			require.NoError(t, err)
			assert.Equal(t, tt.want, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDB_RecordLookupFailure(t *testing.T) {
	next := time.Now().Add(time.Minute)

	t.Run("pending", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("RETURNING lookup_attempts")).
			WithArgs("timeout", next, "order-1").
			WillReturnRows(sqlmock.NewRows([]string{"lookup_attempts"}).AddRow(3))

		attempts, err := db.RecordLookupFailure(context.Background(), "order-1", "timeout", next)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("no longer pending", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("RETURNING lookup_attempts")).
			WillReturnRows(sqlmock.NewRows([]string{"lookup_attempts"}))

		attempts, err := db.RecordLookupFailure(context.Background(), "order-1", "timeout", next)
		require.NoError(t, err)
		assert.Equal(t, 0, attempts)
	})
}

func TestDB_GetDuePendingPayments(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND next_check_at <= $1")).
		WithArgs(now, 50).
		WillReturnRows(addPaymentRow(sqlmock.NewRows(paymentRowColumns), 1, "order-1", models.PaymentStatusPending, now))

	due, err := db.GetDuePendingPayments(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "order-1", due[0].PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS payments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, RunMigrations(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// matchArg compares driver values loosely so int and int64 arguments are equal
type matchArg struct {
	want interface{}
}

func (m matchArg) Match(v driver.Value) bool {
	switch w := m.want.(type) {
	case int:
		n, ok := v.(int64)
		return ok && n == int64(w)
	default:
		return v == m.want
	}
}
