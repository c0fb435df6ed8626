package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/limits"
	"github.com/congo-pay/backoffice/internal/money"
	"github.com/congo-pay/backoffice/internal/tac"
	"github.com/congo-pay/backoffice/internal/validator"
	"github.com/congo-pay/backoffice/internal/wallet"
)

const referenceAttempts = 3

// Config tunes workflow gates.
type Config struct {
	// KYCThreshold holds transfers at or above this amount until the owner is
	// verified. Zero disables the gate.
	KYCThreshold decimal.Decimal
}

// Deps aggregates collaborators of the workflow.
type Deps struct {
	Store    ledger.Store
	Wallets  *wallet.Service
	TACs     *tac.Engine
	Limits   *limits.Enforcer
	Accounts AccountDirectory
	KYC      KYCChecker
	Logger   *slog.Logger
}

// Service sequences a transfer from creation to settlement. It is the only
// writer of transfers and their audit logs.
type Service struct {
	store    ledger.Store
	wallets  *wallet.Service
	tacs     *tac.Engine
	limits   *limits.Enforcer
	accounts AccountDirectory
	kyc      KYCChecker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the transfer workflow.
func NewService(d Deps, cfg Config) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		wallets:  d.Wallets,
		tacs:     d.TACs,
		limits:   d.Limits,
		accounts: d.Accounts,
		kyc:      d.KYC,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the request, runs the limit checks and stores the transfer
// in pending.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (ledger.Transfer, error) {
	if err := validator.Validate(in); err != nil {
		return ledger.Transfer{}, err
	}
	recipient, err := in.Recipient.toRecipient()
	if err != nil {
		return ledger.Transfer{}, err
	}
	accountID := uuid.MustParse(in.AccountID)

	exists, err := s.accounts.AccountExists(ctx, accountID)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if !exists {
		return ledger.Transfer{}, apperrors.NotFound("account")
	}
	active, err := s.accounts.IsActive(ctx, accountID)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if !active {
		return ledger.Transfer{}, apperrors.ErrAccountInactive
	}
	w, err := s.wallets.ForAccount(ctx, accountID)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if in.Currency != "" {
		cur, err := money.NormalizeCurrency(in.Currency)
		if err != nil {
			return ledger.Transfer{}, err
		}
		if cur != w.Currency {
			return ledger.Transfer{}, fmt.Errorf("transfer in %s from %s wallet: %w", cur, w.Currency, apperrors.ErrCurrencyMismatch)
		}
	}
	if err := money.ValidateAmount(in.Amount, w.Currency); err != nil {
		return ledger.Transfer{}, err
	}

	subStatus := ""
	if s.cfg.KYCThreshold.IsPositive() && in.Amount.GreaterThanOrEqual(s.cfg.KYCThreshold) {
		verified, err := s.kyc.IsVerified(ctx, accountID)
		if err != nil {
			return ledger.Transfer{}, err
		}
		if !verified {
			subStatus = ledger.SubStatusKYCRequired
		}
	}

	var created ledger.Transfer
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		ref, err := NewReference()
		if err != nil {
			return ledger.Transfer{}, err
		}
		now := s.now()
		t := ledger.Transfer{
			ID:        uuid.New(),
			Reference: ref,
			AccountID: accountID,
			WalletID:  w.ID,
			Amount:    in.Amount,
			Currency:  w.Currency,
			Recipient: recipient,
			Status:    ledger.StatusPending,
			SubStatus: subStatus,
			Narration: in.Narration,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
			if err := s.limits.CheckLimitsTx(ctx, tx, accountID, in.Amount); err != nil {
				return err
			}
			if err := tx.InsertTransfer(ctx, t); err != nil {
				return err
			}
			meta := map[string]any{"amount": t.Amount.String(), "currency": t.Currency}
			if subStatus != "" {
				meta["sub_status"] = subStatus
			}
			if err := s.appendLog(ctx, tx, t, ledger.LogCreated, "", actor, meta); err != nil {
				return err
			}
			return tx.AppendEvent(ctx, s.event(ledger.EventTransferCreated, t, nil))
		})
		if errors.Is(err, apperrors.ErrDuplicate) {
			continue
		}
		if err != nil {
			return ledger.Transfer{}, err
		}
		created = t
		break
	}
	if created.ID == uuid.Nil {
		return ledger.Transfer{}, fmt.Errorf("allocate transfer reference: %w", apperrors.ErrDuplicate)
	}

	s.logger.Info("transfer created",
		"reference", created.Reference,
		"account_id", created.AccountID.String(),
		"amount", created.Amount.String(),
		"currency", created.Currency,
		"sub_status", created.SubStatus,
	)
	return created, nil
}

// IssueTAC generates the authorization code for a pending transfer. The code
// is returned to the operator once and handed to the notifier via the outbox.
func (s *Service) IssueTAC(ctx context.Context, reference, actor string) (ledger.Transfer, tac.Issued, error) {
	current, err := s.store.GetTransfer(ctx, reference)
	if err != nil {
		return ledger.Transfer{}, tac.Issued{}, err
	}
	verified := true
	if current.SubStatus == ledger.SubStatusKYCRequired {
		if verified, err = s.kyc.IsVerified(ctx, current.AccountID); err != nil {
			return ledger.Transfer{}, tac.Issued{}, err
		}
	}

	var (
		out    ledger.Transfer
		issued tac.Issued
	)
	err = s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		old := t.Status
		if err := transition(&t, ledger.StatusTACSent, "issue tac"); err != nil {
			return err
		}
		if t.SubStatus == ledger.SubStatusKYCRequired {
			if !verified {
				return apperrors.ErrKYCRequired
			}
			t.SubStatus = ""
		}
		issued, err = s.tacs.Issue(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		now := s.now()
		t.TACSentAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, t, ledger.LogTACSent, old, actor, map[string]any{
			"expires_at": issued.ExpiresAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.tacEvent(t, issued)); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return ledger.Transfer{}, tac.Issued{}, err
	}
	s.logger.Info("tac issued", "reference", reference, "actor", actor, "expires_at", issued.ExpiresAt)
	return out, issued, nil
}

// ReissueTAC replaces the code of a transfer still waiting for verification.
func (s *Service) ReissueTAC(ctx context.Context, reference, actor string) (ledger.Transfer, tac.Issued, error) {
	var (
		out    ledger.Transfer
		issued tac.Issued
	)
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		if t.Status != ledger.StatusTACSent {
			return apperrors.NewStateError("reissue tac", string(t.Status))
		}
		current, err := tx.LockTAC(ctx, t.ID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if err == nil && current.Status == ledger.TACUsed {
			return apperrors.NewStateError("reissue tac", string(t.Status))
		}
		issued, err = s.tacs.Issue(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		now := s.now()
		t.TACSentAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, t, ledger.LogTACSent, t.Status, actor, map[string]any{
			"expires_at": issued.ExpiresAt.Format(time.RFC3339),
			"reissued":   true,
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.tacEvent(t, issued)); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return ledger.Transfer{}, tac.Issued{}, err
	}
	s.logger.Info("tac reissued", "reference", reference, "actor", actor, "expires_at", issued.ExpiresAt)
	return out, issued, nil
}

// VerifyTAC consumes the submitted code and deducts the funds.
//
// Verification and deduction are separate units. A rejected code still
// commits its attempt counter. When the debit fails the transfer stays in
// tac_verified and the failure is written to the transfer log.
func (s *Service) VerifyTAC(ctx context.Context, reference, code, actor string) (ledger.Transfer, error) {
	var verr error
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		if t.Status != ledger.StatusTACSent {
			return apperrors.NewStateError("verify tac", string(t.Status))
		}
		if verr = s.tacs.Verify(ctx, tx, t.ID, code); verr != nil {
			if !errors.Is(verr, apperrors.ErrTACInvalid) && !errors.Is(verr, apperrors.ErrTACExpired) {
				return verr
			}
			return s.appendLog(ctx, tx, t, ledger.LogError, t.Status, actor, map[string]any{
				"op":    "verify tac",
				"error": verr.Error(),
			})
		}
		old := t.Status
		if err := transition(&t, ledger.StatusTACVerified, "verify tac"); err != nil {
			return err
		}
		now := s.now()
		t.TACVerifiedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, t, ledger.LogTACVerified, old, actor, nil)
	})
	if err != nil {
		return ledger.Transfer{}, err
	}
	if verr != nil {
		s.logger.Info("tac rejected", "reference", reference, "error", verr.Error())
		return ledger.Transfer{}, verr
	}
	return s.deduct(ctx, reference, actor)
}

// RetryDeduction re-runs the debit for a transfer left in tac_verified.
func (s *Service) RetryDeduction(ctx context.Context, reference, actor string) (ledger.Transfer, error) {
	return s.deduct(ctx, reference, actor)
}

func (s *Service) deduct(ctx context.Context, reference, actor string) (ledger.Transfer, error) {
	var out ledger.Transfer
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		old := t.Status
		if err := transition(&t, ledger.StatusFundsDeducted, "deduct funds"); err != nil {
			return err
		}
		// Limits are evaluated under the wallet lock so concurrent deductions
		// on one account see each other's committed totals.
		if _, err := tx.LockWallet(ctx, t.WalletID); err != nil {
			return err
		}
		if err := s.limits.CheckLimitsTx(ctx, tx, t.AccountID, t.Amount); err != nil {
			return err
		}
		entry, err := s.wallets.DebitTx(ctx, tx, wallet.Mutation{
			WalletID:    t.WalletID,
			Amount:      t.Amount,
			Reference:   t.Reference,
			Description: "transfer to " + t.Recipient.Name,
			Metadata:    map[string]any{"transfer_id": t.ID.String()},
		})
		if err != nil {
			return err
		}
		now := s.now()
		t.DeductedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, t, ledger.LogFundsDeducted, old, actor, map[string]any{
			"entry_id":      entry.ID.String(),
			"balance_after": entry.BalanceAfter.String(),
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.event(ledger.EventTransferFundsDeducted, t, map[string]any{
			"entry_id": entry.ID.String(),
		})); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrTransferState) && !errors.Is(err, apperrors.ErrNotFound) {
			s.recordFailure(ctx, reference, actor, "deduct funds", err)
		}
		return ledger.Transfer{}, err
	}
	s.logger.Info("transfer funds deducted", "reference", reference, "amount", out.Amount.String())
	return out, nil
}

// MarkPendingSettlement records that the external payout has been initiated.
func (s *Service) MarkPendingSettlement(ctx context.Context, reference, actor, notes string) (ledger.Transfer, error) {
	return s.mutate(ctx, reference, "mark pending settlement", func(ctx context.Context, tx ledger.Tx, t *ledger.Transfer) error {
		old := t.Status
		if err := transition(t, ledger.StatusPendingSettlement, "mark pending settlement"); err != nil {
			return err
		}
		if notes != "" {
			t.AdminNotes = notes
		}
		t.UpdatedAt = s.now()
		if err := tx.UpdateTransfer(ctx, *t); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, *t, ledger.LogStatusChange, old, actor, notesMeta(notes))
	})
}

// Settle closes a transfer once the operator has moved the money out of band.
func (s *Service) Settle(ctx context.Context, reference, externalReference, actor, notes string) (ledger.Transfer, error) {
	if externalReference == "" {
		return ledger.Transfer{}, apperrors.Validation("external reference is required")
	}
	return s.mutate(ctx, reference, "settle", func(ctx context.Context, tx ledger.Tx, t *ledger.Transfer) error {
		old := t.Status
		if err := transition(t, ledger.StatusCompleted, "settle"); err != nil {
			return err
		}
		now := s.now()
		t.ExternalReference = externalReference
		t.SettledAt = &now
		t.UpdatedAt = now
		if notes != "" {
			t.AdminNotes = notes
		}
		if err := tx.UpdateTransfer(ctx, *t); err != nil {
			return err
		}
		meta := notesMeta(notes)
		meta["external_reference"] = externalReference
		if err := s.appendLog(ctx, tx, *t, ledger.LogSettlementCompleted, old, actor, meta); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, s.event(ledger.EventTransferCompleted, *t, map[string]any{
			"external_reference": externalReference,
		}))
	})
}

// Cancel abandons a transfer before any funds moved.
func (s *Service) Cancel(ctx context.Context, reference, actor, reason string) (ledger.Transfer, error) {
	return s.mutate(ctx, reference, "cancel", func(ctx context.Context, tx ledger.Tx, t *ledger.Transfer) error {
		old := t.Status
		if err := transition(t, ledger.StatusCancelled, "cancel"); err != nil {
			return err
		}
		if err := s.tacs.Revoke(ctx, tx, t.ID); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		if err := tx.UpdateTransfer(ctx, *t); err != nil {
			return err
		}
		meta := map[string]any{}
		if reason != "" {
			meta["reason"] = reason
		}
		if err := s.appendLog(ctx, tx, *t, ledger.LogStatusChange, old, actor, meta); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, s.event(ledger.EventTransferCancelled, *t, meta))
	})
}

// Fail stops a transfer on an unrecoverable error. Deducted funds are
// credited back to the wallet in the same unit.
func (s *Service) Fail(ctx context.Context, reference, actor, reason string) (ledger.Transfer, error) {
	if reason == "" {
		return ledger.Transfer{}, apperrors.Validation("failure reason is required")
	}
	return s.mutate(ctx, reference, "fail", func(ctx context.Context, tx ledger.Tx, t *ledger.Transfer) error {
		old := t.Status
		refund := old.FundsDeducted()
		if err := transition(t, ledger.StatusFailed, "fail"); err != nil {
			return err
		}
		meta := map[string]any{"reason": reason, "refunded": refund}
		if refund {
			entry, err := s.wallets.CreditTx(ctx, tx, wallet.Mutation{
				WalletID:    t.WalletID,
				Amount:      t.Amount,
				Reference:   "REV-" + t.Reference,
				Description: "reversal of " + t.Reference,
				Metadata:    map[string]any{"transfer_id": t.ID.String()},
			})
			if err != nil {
				return err
			}
			meta["reversal_entry_id"] = entry.ID.String()
		}
		if err := s.tacs.Revoke(ctx, tx, t.ID); err != nil {
			return err
		}
		t.FailureReason = reason
		t.UpdatedAt = s.now()
		if err := tx.UpdateTransfer(ctx, *t); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, *t, ledger.LogStatusChange, old, actor, meta); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, s.event(ledger.EventTransferFailed, *t, meta))
	})
}

// Get returns a transfer by reference.
func (s *Service) Get(ctx context.Context, reference string) (ledger.Transfer, error) {
	return s.store.GetTransfer(ctx, reference)
}

// Logs returns the audit trail of a transfer, oldest first.
func (s *Service) Logs(ctx context.Context, reference string) ([]ledger.TransferLog, error) {
	t, err := s.store.GetTransfer(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransferLogs(ctx, t.ID)
}

func (s *Service) mutate(ctx context.Context, reference, op string, fn func(ctx context.Context, tx ledger.Tx, t *ledger.Transfer) error) (ledger.Transfer, error) {
	var out ledger.Transfer
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return ledger.Transfer{}, err
	}
	s.logger.Info("transfer updated", "reference", reference, "op", op, "status", string(out.Status))
	return out, nil
}

// recordFailure appends an error row in its own unit so it survives the
// rollback of the operation that failed.
func (s *Service) recordFailure(ctx context.Context, reference, actor, op string, cause error) {
	s.logger.Error("transfer operation failed", "reference", reference, "op", op, "error", cause.Error())
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, reference)
		if err != nil {
			return err
		}
		return s.appendLog(ctx, tx, t, ledger.LogError, t.Status, actor, map[string]any{
			"op":    op,
			"error": cause.Error(),
		})
	})
	if err != nil {
		s.logger.Error("record transfer failure", "reference", reference, "error", err.Error())
	}
}

func (s *Service) appendLog(ctx context.Context, tx ledger.Tx, t ledger.Transfer, event ledger.LogEvent, old ledger.TransferStatus, actor string, meta map[string]any) error {
	return tx.AppendTransferLog(ctx, ledger.TransferLog{
		ID:         uuid.New(),
		TransferID: t.ID,
		Event:      event,
		OldStatus:  old,
		NewStatus:  t.Status,
		Actor:      actor,
		Metadata:   meta,
		CreatedAt:  s.now(),
	})
}

func (s *Service) event(eventType string, t ledger.Transfer, extra map[string]any) ledger.Event {
	payload := map[string]any{
		"reference":  t.Reference,
		"account_id": t.AccountID.String(),
		"wallet_id":  t.WalletID.String(),
		"amount":     t.Amount.String(),
		"currency":   t.Currency,
		"status":     string(t.Status),
		"recipient":  t.Recipient.Name,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return ledger.NewEvent(eventType, t.Reference, payload, s.now())
}

func (s *Service) tacEvent(t ledger.Transfer, issued tac.Issued) ledger.Event {
	return ledger.NewEvent(ledger.EventTACIssued, t.Reference, map[string]any{
		"reference":  t.Reference,
		"account_id": t.AccountID.String(),
		"amount":     t.Amount.String(),
		"currency":   t.Currency,
		"code":       issued.Code,
		"expires_at": issued.ExpiresAt.Format(time.RFC3339),
	}, s.now())
}

func transition(t *ledger.Transfer, to ledger.TransferStatus, op string) error {
	if !ledger.CanTransition(t.Status, to) {
		return apperrors.NewStateError(op, string(t.Status))
	}
	t.Status = to
	return nil
}

func notesMeta(notes string) map[string]any {
	meta := map[string]any{}
	if notes != "" {
		meta["notes"] = notes
	}
	return meta
}
