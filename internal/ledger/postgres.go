package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
)

const (
	maxTxAttempts        = 3
	pgUniqueViolation    = "23505"
	pgSerializationError = "40001"
	pgDeadlockDetected   = "40P01"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger persists wallets, entries and the transfer workflow in PostgreSQL.
// Amounts travel as text so NUMERIC precision is never lost.
type PostgresLedger struct {
	queries
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger store.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{queries: queries{q: db}, db: db}
}

// Ping checks database connectivity.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// Do runs fn in a read-committed transaction. Row locks taken through the Tx
// serialize competing units; units aborted by deadlock or serialization
// failure are retried with backoff.
func (l *PostgresLedger) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = l.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 25 * time.Millisecond):
		}
	}
	return err
}

func (l *PostgresLedger) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationError || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PendingEvents returns undispatched outbox events oldest first.
func (l *PostgresLedger) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := l.db.Query(ctx, `SELECT id, type, aggregate_id, payload, created_at, dispatched_at
        FROM outbox_events WHERE dispatched_at IS NULL ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AggregateID, &ev.Payload, &ev.CreatedAt, &ev.DispatchedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkEventsDispatched stamps the given outbox events as delivered.
func (l *PostgresLedger) MarkEventsDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := l.db.Exec(ctx, `UPDATE outbox_events SET dispatched_at = $2
        WHERE id = ANY($1) AND dispatched_at IS NULL`, ids, at.UTC())
	return err
}

// WalletDrift recomputes every wallet balance from its entries.
func (l *PostgresLedger) WalletDrift(ctx context.Context) ([]Drift, error) {
	const query = `
        SELECT w.id, w.balance::text, COALESCE(SUM(CASE WHEN e.type = 'credit' THEN e.amount ELSE -e.amount END), 0)::text
        FROM wallets w
        LEFT JOIN ledger_entries e ON e.wallet_id = w.id
        GROUP BY w.id, w.balance
        HAVING w.balance <> COALESCE(SUM(CASE WHEN e.type = 'credit' THEN e.amount ELSE -e.amount END), 0)
        ORDER BY w.id`
	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Drift
	for rows.Next() {
		var (
			d                        Drift
			storedText, computedText string
		)
		if err := rows.Scan(&d.WalletID, &storedText, &computedText); err != nil {
			return nil, err
		}
		if d.Stored, err = decimal.NewFromString(storedText); err != nil {
			return nil, err
		}
		if d.Computed, err = decimal.NewFromString(computedText); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type queries struct {
	q querier
}

func notFound(err error, resource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(resource)
	}
	return err
}

func (s queries) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.account(ctx, `SELECT id, status, kyc_verified, created_at, updated_at FROM accounts WHERE id = $1`, id)
}

func (s queries) account(ctx context.Context, query string, id uuid.UUID) (Account, error) {
	var a Account
	var status string
	if err := s.q.QueryRow(ctx, query, id).Scan(&a.ID, &status, &a.KYCVerified, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, notFound(err, "account")
	}
	a.Status = AccountStatus(status)
	return a, nil
}

const walletColumns = `id, account_id, balance::text, currency, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	if err := row.Scan(&w.ID, &w.AccountID, &balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, notFound(err, "wallet")
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	w.Balance = amount
	return w, nil
}

func (s queries) GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return scanWallet(s.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (s queries) GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (Wallet, error) {
	return scanWallet(s.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID))
}

func (s queries) ListEntries(ctx context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]Entry, error) {
	rows, err := s.q.Query(ctx, `SELECT id, seq, wallet_id, type, amount::text, balance_before::text, balance_after::text,
            reference, description, metadata, created_at
        FROM ledger_entries
        WHERE wallet_id = $1 AND ($2::bigint <= 0 OR seq < $2::bigint)
        ORDER BY seq DESC
        LIMIT $3`, walletID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			kind                  string
			amount, before, after string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.WalletID, &kind, &amount, &before, &after,
			&e.Reference, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const transferColumns = `id, reference, account_id, wallet_id, amount::text, currency, recipient, status, sub_status,
    narration, external_reference, admin_notes, failure_reason, created_at, updated_at,
    tac_sent_at, tac_verified_at, deducted_at, settled_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t      Transfer
		amount string
		status string
	)
	if err := row.Scan(&t.ID, &t.Reference, &t.AccountID, &t.WalletID, &amount, &t.Currency, &t.Recipient,
		&status, &t.SubStatus, &t.Narration, &t.ExternalReference, &t.AdminNotes, &t.FailureReason,
		&t.CreatedAt, &t.UpdatedAt, &t.TACSentAt, &t.TACVerifiedAt, &t.DeductedAt, &t.SettledAt); err != nil {
		return Transfer{}, notFound(err, "transfer")
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Transfer{}, fmt.Errorf("parse transfer amount: %w", err)
	}
	t.Amount = parsed
	t.Status = TransferStatus(status)
	return t, nil
}

func (s queries) GetTransfer(ctx context.Context, reference string) (Transfer, error) {
	return scanTransfer(s.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE reference = $1`, reference))
}

const tacColumns = `transfer_id, code_hash, status, attempts, expires_at, used_at, created_at`

func scanTAC(row pgx.Row) (TAC, error) {
	var (
		t      TAC
		status string
	)
	if err := row.Scan(&t.TransferID, &t.CodeHash, &status, &t.Attempts, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt); err != nil {
		return TAC{}, notFound(err, "tac")
	}
	t.Status = TACStatus(status)
	return t, nil
}

func (s queries) GetTAC(ctx context.Context, transferID uuid.UUID) (TAC, error) {
	return scanTAC(s.q.QueryRow(ctx, `SELECT `+tacColumns+` FROM tacs WHERE transfer_id = $1`, transferID))
}

func (s queries) ListTransferLogs(ctx context.Context, transferID uuid.UUID) ([]TransferLog, error) {
	rows, err := s.q.Query(ctx, `SELECT id, transfer_id, event, old_status, new_status, actor, metadata, created_at
        FROM transfer_logs WHERE transfer_id = $1 ORDER BY seq`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransferLog
	for rows.Next() {
		var (
			l                           TransferLog
			event, oldStatus, newStatus string
		)
		if err := rows.Scan(&l.ID, &l.TransferID, &event, &oldStatus, &newStatus, &l.Actor, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Event = LogEvent(event)
		l.OldStatus = TransferStatus(oldStatus)
		l.NewStatus = TransferStatus(newStatus)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s queries) SumTransfers(ctx context.Context, accountID uuid.UUID, statuses []TransferStatus, since time.Time) (decimal.Decimal, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	var sum string
	if err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM transfers
        WHERE account_id = $1 AND status = ANY($2) AND deducted_at >= $3`, accountID, names, since.UTC()).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func (s queries) ListLimits(ctx context.Context) ([]Limit, error) {
	rows, err := s.q.Query(ctx, `SELECT period, amount::text, is_active, updated_at FROM transfer_limits ORDER BY period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Limit
	for rows.Next() {
		var (
			l              Limit
			period, amount string
		)
		if err := rows.Scan(&period, &amount, &l.Active, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.Period = LimitPeriod(period)
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type pgTx struct {
	queries
}

func (t *pgTx) InsertAccount(ctx context.Context, a Account) error {
	_, err := t.q.Exec(ctx, `INSERT INTO accounts (id, status, kyc_verified, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)`, a.ID, string(a.Status), a.KYCVerified, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := t.q.Exec(ctx, `UPDATE accounts SET status = $2, kyc_verified = $3, updated_at = $4 WHERE id = $1`,
		a.ID, string(a.Status), a.KYCVerified, a.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NotFound("account")
	}
	return nil
}

func (t *pgTx) InsertWallet(ctx context.Context, w Wallet) error {
	_, err := t.q.Exec(ctx, `INSERT INTO wallets (id, account_id, balance, currency, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, w.ID, w.AccountID, w.Balance.String(), w.Currency, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicate
	}
	return err
}

func (t *pgTx) LockWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return scanWallet(t.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error {
	cmd, err := t.q.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`, id, balance.String(), at.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NotFound("wallet")
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e Entry) (Entry, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO ledger_entries
            (id, wallet_id, type, amount, balance_before, balance_after, reference, description, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING seq`,
		e.ID, e.WalletID, string(e.Type), e.Amount.String(), e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.Reference, e.Description, orEmpty(e.Metadata), e.CreatedAt.UTC()).Scan(&e.Seq)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr Transfer) error {
	_, err := t.q.Exec(ctx, `INSERT INTO transfers
            (id, reference, account_id, wallet_id, amount, currency, recipient, status, sub_status, narration,
             external_reference, admin_notes, failure_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tr.ID, tr.Reference, tr.AccountID, tr.WalletID, tr.Amount.String(), tr.Currency, tr.Recipient,
		string(tr.Status), tr.SubStatus, tr.Narration, tr.ExternalReference, tr.AdminNotes, tr.FailureReason,
		tr.CreatedAt.UTC(), tr.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicate
	}
	return err
}

func (t *pgTx) LockTransfer(ctx context.Context, reference string) (Transfer, error) {
	return scanTransfer(t.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE reference = $1 FOR UPDATE`, reference))
}

func (t *pgTx) UpdateTransfer(ctx context.Context, tr Transfer) error {
	cmd, err := t.q.Exec(ctx, `UPDATE transfers SET
            status = $2, sub_status = $3, external_reference = $4, admin_notes = $5, failure_reason = $6,
            updated_at = $7, tac_sent_at = $8, tac_verified_at = $9, deducted_at = $10, settled_at = $11
        WHERE reference = $1`,
		tr.Reference, string(tr.Status), tr.SubStatus, tr.ExternalReference, tr.AdminNotes, tr.FailureReason,
		tr.UpdatedAt.UTC(), tr.TACSentAt, tr.TACVerifiedAt, tr.DeductedAt, tr.SettledAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NotFound("transfer")
	}
	return nil
}

func (t *pgTx) LockTAC(ctx context.Context, transferID uuid.UUID) (TAC, error) {
	return scanTAC(t.q.QueryRow(ctx, `SELECT `+tacColumns+` FROM tacs WHERE transfer_id = $1 FOR UPDATE`, transferID))
}

func (t *pgTx) UpsertTAC(ctx context.Context, tac TAC) error {
	_, err := t.q.Exec(ctx, `INSERT INTO tacs (transfer_id, code_hash, status, attempts, expires_at, used_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (transfer_id) DO UPDATE SET
            code_hash = EXCLUDED.code_hash, status = EXCLUDED.status, attempts = EXCLUDED.attempts,
            expires_at = EXCLUDED.expires_at, used_at = EXCLUDED.used_at, created_at = EXCLUDED.created_at`,
		tac.TransferID, tac.CodeHash, string(tac.Status), tac.Attempts, tac.ExpiresAt.UTC(), tac.UsedAt, tac.CreatedAt.UTC())
	return err
}

func (t *pgTx) UpdateTAC(ctx context.Context, tac TAC) error {
	cmd, err := t.q.Exec(ctx, `UPDATE tacs SET status = $2, attempts = $3, used_at = $4 WHERE transfer_id = $1`,
		tac.TransferID, string(tac.Status), tac.Attempts, tac.UsedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NotFound("tac")
	}
	return nil
}

func (t *pgTx) ConsumeTAC(ctx context.Context, transferID uuid.UUID, usedAt time.Time) (bool, error) {
	cmd, err := t.q.Exec(ctx, `UPDATE tacs SET status = 'used', used_at = $2
        WHERE transfer_id = $1 AND status = 'pending'`, transferID, usedAt.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *pgTx) AppendTransferLog(ctx context.Context, l TransferLog) error {
	_, err := t.q.Exec(ctx, `INSERT INTO transfer_logs (id, transfer_id, event, old_status, new_status, actor, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.TransferID, string(l.Event), string(l.OldStatus), string(l.NewStatus), l.Actor, orEmpty(l.Metadata), l.CreatedAt.UTC())
	return err
}

func (t *pgTx) AppendEvent(ctx context.Context, ev Event) error {
	_, err := t.q.Exec(ctx, `INSERT INTO outbox_events (id, type, aggregate_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.Type, ev.AggregateID, orEmpty(ev.Payload), ev.CreatedAt.UTC())
	return err
}

func (t *pgTx) UpsertLimit(ctx context.Context, l Limit) error {
	_, err := t.q.Exec(ctx, `INSERT INTO transfer_limits (period, amount, is_active, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (period) DO UPDATE SET amount = EXCLUDED.amount, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		string(l.Period), l.Amount.String(), l.Active, l.UpdatedAt.UTC())
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
