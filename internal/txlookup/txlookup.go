package txlookup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"cardassist/internal/domain"
)

// ErrTimeRequired is returned when a lookup arrives without an approximate
// time. The caller is expected to ask the user for it rather than guess.
var ErrTimeRequired = errors.New("approximate transaction time is required")

// ReasonCode is one entry of the response-code mapping file. The field names
// inside technical_details carry spaces because the file is exported from the
// scheme's reference sheet as-is.
type ReasonCode struct {
	TechnicalDetails TechnicalDetails `json:"technical_details"`
	AgentMessage     string           `json:"agent_message"`
}

// TechnicalDetails holds the scheme-level code and description.
type TechnicalDetails struct {
	RespCode     any    `json:"Resp Code"`
	ResponseDesc string `json:"Response Desc"`
}

// LoadReasonCodes reads the response-code mapping file.
func LoadReasonCodes(path string) ([]ReasonCode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reason codes: %w", err)
	}
	var codes []ReasonCode
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, fmt.Errorf("parse reason codes %s: %w", path, err)
	}
	return codes, nil
}

// Open connects to the transactions database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transactions db: %w", err)
	}
	return db, nil
}

const transactionColumns = "rrn, tstamp_trans, amt, card_number, reason_code, merchant, bank_name, card_type, txn_type"

const findQuery = `SELECT ` + transactionColumns + `
FROM transactions
WHERE amt BETWEEN $1 AND $2
AND card_number LIKE $3
AND tstamp_trans BETWEEN $4 AND $5
ORDER BY tstamp_trans DESC
LIMIT 1`

const recentQuery = `SELECT ` + transactionColumns + `
FROM transactions
ORDER BY tstamp_trans DESC
LIMIT $1`

// Lookup finds transactions by fuzzy amount and time. Amounts match within
// twenty percent either way, and the time window widens in three attempts:
// two hours around the stated time, then the whole calendar day, then the
// two-hour window shifted twelve hours to catch am/pm mix-ups.
type Lookup struct {
	db    *sql.DB
	codes []ReasonCode
	now   func() time.Time
	log   *logrus.Logger
}

// New builds a lookup over an open database handle.
func New(db *sql.DB, codes []ReasonCode, log *logrus.Logger) *Lookup {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Lookup{db: db, codes: codes, now: time.Now, log: log}
}

// Ping checks database reachability.
func (l *Lookup) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Find locates the most recent transaction matching the query. A missing
// approximate time fails with ErrTimeRequired; an empty date defaults to
// today. When nothing matches in any window the report carries scheme code
// 91 with Found unset.
func (l *Lookup) Find(ctx context.Context, q domain.TransactionQuery) (domain.TransactionReport, error) {
	approx := strings.ToLower(strings.TrimSpace(q.ApproxTime))
	if approx == "" || approx == "none" || approx == "null" {
		return domain.TransactionReport{}, ErrTimeRequired
	}

	date := strings.TrimSpace(q.Date)
	if date == "" {
		date = l.now().Format("2006-01-02")
	}
	userDT, err := parseDateTime(date, q.ApproxTime)
	if err != nil {
		return domain.TransactionReport{}, err
	}

	minAmt := q.Amount * 0.8
	maxAmt := q.Amount * 1.2
	pattern := "%" + q.CardLast4

	dayStart := time.Date(userDT.Year(), userDT.Month(), userDT.Day(), 0, 0, 0, 0, userDT.Location())
	windows := []struct {
		name       string
		start, end time.Time
	}{
		{"two-hour", userDT.Add(-2 * time.Hour), userDT.Add(2 * time.Hour)},
		{"whole-day", dayStart, dayStart.Add(24*time.Hour - time.Nanosecond)},
		{"am-pm-flip", userDT.Add(10 * time.Hour), userDT.Add(14 * time.Hour)},
	}

	for _, w := range windows {
		tx, found, err := l.findInWindow(ctx, minAmt, maxAmt, pattern, w.start, w.end)
		if err != nil {
			return domain.TransactionReport{}, err
		}
		if found {
			return l.report(tx), nil
		}
		l.log.WithFields(logrus.Fields{
			"window": w.name,
			"start":  w.start,
			"end":    w.end,
		}).Debug("no transaction in window")
	}

	return domain.TransactionReport{
		ReasonCode:  "91",
		ErrorReason: "No transaction found.",
	}, nil
}

func (l *Lookup) findInWindow(ctx context.Context, minAmt, maxAmt float64, pattern string, start, end time.Time) (domain.Transaction, bool, error) {
	tx, err := scanTransaction(l.db.QueryRowContext(ctx, findQuery, minAmt, maxAmt, pattern, start, end))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("query transactions: %w", err)
	}
	return tx, true, nil
}

func (l *Lookup) report(tx domain.Transaction) domain.TransactionReport {
	status := "Success"
	if tx.ReasonCode != "00" {
		status = "Failed"
	}
	desc, msg := l.details(tx.ReasonCode)
	return domain.TransactionReport{
		Found:            true,
		Date:             tx.Timestamp.Format("2006-01-02 15:04:05"),
		Amount:           commaSeparated(int64(tx.Amount)),
		Status:           status,
		ReasonCode:       tx.ReasonCode,
		ErrorReason:      desc,
		SuggestedMessage: msg,
	}
}

// Recent returns the latest transactions, newest first.
func (l *Lookup) Recent(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 15
	}
	rows, err := l.db.QueryContext(ctx, recentQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var merchant, bankName, cardType, txnType sql.NullString
	err := row.Scan(&tx.RRN, &tx.Timestamp, &tx.Amount, &tx.CardNumber, &tx.ReasonCode,
		&merchant, &bankName, &cardType, &txnType)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Merchant = merchant.String
	tx.BankName = bankName.String
	tx.CardType = cardType.String
	tx.TxnType = txnType.String
	return tx, nil
}

func (l *Lookup) details(code string) (description, message string) {
	for _, entry := range l.codes {
		if respCodeString(entry.TechnicalDetails.RespCode) == code {
			description = entry.TechnicalDetails.ResponseDesc
			if description == "" {
				description = "UNKNOWN"
			}
			message = entry.AgentMessage
			if message == "" {
				message = "Transaction failed."
			}
			return description, message
		}
	}
	return "UNKNOWN RESPONSE CODE", "Transaction failed with unknown error."
}

// respCodeString normalizes a code that the mapping file may carry as either
// a JSON string or a bare number.
func respCodeString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 pm",
	"2006-01-02 3:04pm",
	"2006-01-02 3 pm",
	"2006-01-02 3pm",
	"2006-01-02 15",
}

// parseDateTime combines a YYYY-MM-DD date with a loosely formatted time of
// day. Users write times like "12.30", "2 pm" or "14:30"; dots are treated
// as minute separators.
func parseDateTime(date, approx string) (time.Time, error) {
	t := strings.ToLower(strings.TrimSpace(approx))
	t = strings.ReplaceAll(t, ".", ":")
	combined := strings.Join(strings.Fields(date+" "+t), " ")
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, combined); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized transaction time %q %q", date, approx)
}

func commaSeparated(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}
