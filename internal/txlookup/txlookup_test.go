package txlookup

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/domain"
)

var txColumns = []string{"rrn", "tstamp_trans", "amt", "card_number", "reason_code", "merchant", "bank_name", "card_type", "txn_type"}

func testReasonCodes() []ReasonCode {
	return []ReasonCode{
		{TechnicalDetails: TechnicalDetails{RespCode: "00", ResponseDesc: "Approved"}, AgentMessage: "The transaction went through successfully."},
		{TechnicalDetails: TechnicalDetails{RespCode: "05", ResponseDesc: "Do not honour"}, AgentMessage: "The bank declined this transaction. Please ask your bank why it was refused."},
		{TechnicalDetails: TechnicalDetails{RespCode: float64(91), ResponseDesc: "Issuer or switch inoperative"}, AgentMessage: "The bank systems were temporarily unavailable. Please try again."},
	}
}

func newTestLookup(t *testing.T) (*Lookup, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(db, testReasonCodes(), log), mock
}

func TestParseDateTime(t *testing.T) {
	cases := []struct {
		name   string
		date   string
		approx string
		want   time.Time
	}{
		{"24h with colon", "2025-01-15", "14:30", time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)},
		{"dot as minute separator", "2025-01-15", "12.30", time.Date(2025, 1, 15, 12, 30, 0, 0, time.UTC)},
		{"minutes with meridiem", "2025-01-15", "2:15 pm", time.Date(2025, 1, 15, 14, 15, 0, 0, time.UTC)},
		{"compact meridiem", "2025-01-15", "2pm", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)},
		{"hour with meridiem", "2025-01-15", "2 pm", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)},
		{"uppercase meridiem", "2025-01-15", "9:15 PM", time.Date(2025, 1, 15, 21, 15, 0, 0, time.UTC)},
		{"midnight half hour", "2025-01-15", "12:30 am", time.Date(2025, 1, 15, 0, 30, 0, 0, time.UTC)},
		{"bare hour", "2025-01-15", "14", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)},
		{"with seconds", "2025-01-15", "14:30:45", time.Date(2025, 1, 15, 14, 30, 45, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDateTime(tc.date, tc.approx)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %v", got)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := parseDateTime("2025-01-15", "around lunch")
		assert.Error(t, err)
	})
}

func TestCommaSeparated(t *testing.T) {
	assert.Equal(t, "0", commaSeparated(0))
	assert.Equal(t, "999", commaSeparated(999))
	assert.Equal(t, "43,402", commaSeparated(43402))
	assert.Equal(t, "1,000,000", commaSeparated(1000000))
	assert.Equal(t, "-12,500", commaSeparated(-12500))
}

func TestFindRequiresApproxTime(t *testing.T) {
	lk, _ := newTestLookup(t)
	for _, approx := range []string{"", "none", "NULL", "  "} {
		_, err := lk.Find(context.Background(), domain.TransactionQuery{
			Date: "2025-01-15", ApproxTime: approx, Amount: 500, CardLast4: "4321",
		})
		assert.ErrorIs(t, err, ErrTimeRequired, "approx=%q", approx)
	}
}

func TestFindInTwoHourWindow(t *testing.T) {
	lk, mock := newTestLookup(t)
	userDT := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	ts := time.Date(2025, 1, 15, 14, 12, 9, 0, time.UTC)
	amount := 40000.0

	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WithArgs(amount*0.8, amount*1.2, "%4321", userDT.Add(-2*time.Hour), userDT.Add(2*time.Hour)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("512345678901", ts, 43402.0, "60790004321", "05", "WebMart", "State Bank", "Platinum", "ecom"))

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "14:30", Amount: amount, CardLast4: "4321",
	})
	require.NoError(t, err)

	assert.True(t, report.Found)
	assert.Equal(t, "2025-01-15 14:12:09", report.Date)
	assert.Equal(t, "43,402", report.Amount)
	assert.Equal(t, "Failed", report.Status)
	assert.Equal(t, "05", report.ReasonCode)
	assert.Equal(t, "Do not honour", report.ErrorReason)
	assert.Contains(t, report.SuggestedMessage, "declined")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindFallsBackToWholeDay(t *testing.T) {
	lk, mock := newTestLookup(t)
	userDT := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	dayStart := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2025, 1, 15, 17, 45, 0, 0, time.UTC)
	amount := 1200.0

	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WithArgs(amount*0.8, amount*1.2, "%9876", userDT.Add(-2*time.Hour), userDT.Add(2*time.Hour)).
		WillReturnRows(sqlmock.NewRows(txColumns))
	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WithArgs(amount*0.8, amount*1.2, "%9876", dayStart, dayStart.Add(24*time.Hour-time.Nanosecond)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("512300009876", ts, 1180.0, "60799876", "00", "Grocery Hub", "Canara", "Classic", "pos"))

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "9:00", Amount: amount, CardLast4: "9876",
	})
	require.NoError(t, err)

	assert.True(t, report.Found)
	assert.Equal(t, "Success", report.Status)
	assert.Equal(t, "00", report.ReasonCode)
	assert.Equal(t, "Approved", report.ErrorReason)
	assert.Equal(t, "1,180", report.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAmPmFlipCrossesMidnight(t *testing.T) {
	lk, mock := newTestLookup(t)
	// user says 11 pm on the 15th, transaction actually 11 am on the 16th
	userDT := time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)
	dayStart := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2025, 1, 16, 11, 5, 0, 0, time.UTC)
	amount := 900.0
	args := []driverArgs{
		{userDT.Add(-2 * time.Hour), userDT.Add(2 * time.Hour)},
		{dayStart, dayStart.Add(24*time.Hour - time.Nanosecond)},
		{userDT.Add(10 * time.Hour), userDT.Add(14 * time.Hour)},
	}

	for i, a := range args {
		q := mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
			WithArgs(amount*0.8, amount*1.2, "%1111", a.start, a.end)
		if i == len(args)-1 {
			q.WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow("512311111111", ts, 910.0, "60791111", "91", "Fuel Point", "Union", "Classic", "pos"))
		} else {
			q.WillReturnRows(sqlmock.NewRows(txColumns))
		}
	}

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "11 pm", Amount: amount, CardLast4: "1111",
	})
	require.NoError(t, err)

	assert.True(t, report.Found)
	assert.Equal(t, "2025-01-16 11:05:00", report.Date)
	assert.Equal(t, "Issuer or switch inoperative", report.ErrorReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type driverArgs struct {
	start, end time.Time
}

func TestFindNothingAnywhere(t *testing.T) {
	lk, mock := newTestLookup(t)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(findQuery)).WillReturnRows(sqlmock.NewRows(txColumns))
	}

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "10:00", Amount: 750, CardLast4: "2222",
	})
	require.NoError(t, err)

	assert.False(t, report.Found)
	assert.Equal(t, "91", report.ReasonCode)
	assert.Equal(t, "No transaction found.", report.ErrorReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUnknownReasonCode(t *testing.T) {
	lk, mock := newTestLookup(t)
	ts := time.Date(2025, 1, 15, 10, 10, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("512344440000", ts, 500.0, "60790000", "76", "Kirana Store", "PNB", "Classic", "pos"))

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "10:00", Amount: 500, CardLast4: "0000",
	})
	require.NoError(t, err)

	assert.Equal(t, "UNKNOWN RESPONSE CODE", report.ErrorReason)
	assert.Equal(t, "Transaction failed with unknown error.", report.SuggestedMessage)
	assert.Equal(t, "Failed", report.Status)
}

func TestFindDateDefaultsToToday(t *testing.T) {
	lk, mock := newTestLookup(t)
	lk.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	userDT := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	amount := 300.0

	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WithArgs(amount*0.8, amount*1.2, "%3333", userDT.Add(-2*time.Hour), userDT.Add(2*time.Hour)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("512333330000", userDT, 310.0, "60793333", "00", "Cafe", "BOB", "Classic", "pos"))

	report, err := lk.Find(context.Background(), domain.TransactionQuery{
		ApproxTime: "1 pm", Amount: amount, CardLast4: "3333",
	})
	require.NoError(t, err)
	assert.True(t, report.Found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindQueryFailure(t *testing.T) {
	lk, mock := newTestLookup(t)
	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).WillReturnError(errors.New("connection refused"))

	_, err := lk.Find(context.Background(), domain.TransactionQuery{
		Date: "2025-01-15", ApproxTime: "10:00", Amount: 500, CardLast4: "2222",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query transactions")
}

func TestRecent(t *testing.T) {
	lk, mock := newTestLookup(t)
	ts1 := time.Date(2025, 1, 16, 18, 0, 0, 0, time.UTC)
	ts2 := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(recentQuery)).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("512399990001", ts1, 2500.0, "60795555", "00", "Electronics", "SBI", "Platinum", "ecom").
			AddRow("512399990002", ts2, 120.0, "60796666", "05", nil, nil, nil, nil))

	txs, err := lk.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "512399990001", txs[0].RRN)
	assert.Equal(t, 2500.0, txs[0].Amount)
	assert.Equal(t, "Electronics", txs[0].Merchant)
	assert.True(t, ts1.Equal(txs[0].Timestamp))

	// null descriptive columns come back as empty strings
	assert.Equal(t, "", txs[1].Merchant)
	assert.Equal(t, "", txs[1].BankName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultsLimit(t *testing.T) {
	lk, mock := newTestLookup(t)
	mock.ExpectQuery(regexp.QuoteMeta(recentQuery)).
		WithArgs(15).
		WillReturnRows(sqlmock.NewRows(txColumns))

	txs, err := lk.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespCodeString(t *testing.T) {
	assert.Equal(t, "05", respCodeString("05"))
	assert.Equal(t, "91", respCodeString(float64(91)))
	assert.Equal(t, "", respCodeString(nil))
}
