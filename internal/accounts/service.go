package accounts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/wallet"
)

// Service keeps the local read model of customer accounts. Profiles and KYC
// review live elsewhere; only the status and KYC flag are mirrored here.
type Service struct {
	store           ledger.Store
	wallets         *wallet.Service
	defaultCurrency string
	logger          *slog.Logger
}

// NewService creates a new accounts service.
func NewService(store ledger.Store, wallets *wallet.Service, defaultCurrency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, wallets: wallets, defaultCurrency: defaultCurrency, logger: logger}
}

// ProvisionInput identifies the account to mirror and its wallet currency.
type ProvisionInput struct {
	AccountID   string `json:"account_id" validate:"omitempty,uuid"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	KYCVerified bool   `json:"kyc_verified"`
}

// Provision registers an account and opens its wallet in one unit.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (ledger.Account, ledger.Wallet, error) {
	id := uuid.New()
	if in.AccountID != "" {
		parsed, err := uuid.Parse(in.AccountID)
		if err != nil {
			return ledger.Account{}, ledger.Wallet{}, apperrors.Validation("account_id must be a UUID")
		}
		id = parsed
	}
	currency := in.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	now := time.Now().UTC()
	account := ledger.Account{
		ID:          id,
		Status:      ledger.AccountActive,
		KYCVerified: in.KYCVerified,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var w ledger.Wallet
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		var err error
		w, err = s.wallets.Open(ctx, tx, account.ID, currency)
		return err
	})
	if err != nil {
		return ledger.Account{}, ledger.Wallet{}, err
	}
	s.logger.Info("account provisioned",
		slog.String("account_id", account.ID.String()),
		slog.String("wallet_id", w.ID.String()),
		slog.String("currency", w.Currency),
	)
	return account, w, nil
}

// Get returns the account read model.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// AccountExists reports whether the account is known.
func (s *Service) AccountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsActive reports whether the account may move money.
func (s *Service) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Status == ledger.AccountActive, nil
}

// IsVerified reports whether the account passed KYC.
func (s *Service) IsVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return false, err
	}
	return a.KYCVerified, nil
}

// SetKYCVerified records the outcome of an external KYC review.
func (s *Service) SetKYCVerified(ctx context.Context, id uuid.UUID, verified bool) (ledger.Account, error) {
	return s.update(ctx, id, func(a *ledger.Account) error {
		a.KYCVerified = verified
		return nil
	})
}

// SetStatus changes the account lifecycle status. Closed accounts cannot be reopened.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status ledger.AccountStatus) (ledger.Account, error) {
	switch status {
	case ledger.AccountActive, ledger.AccountSuspended, ledger.AccountClosed:
	default:
		return ledger.Account{}, apperrors.Validation("unknown account status %q", status)
	}
	return s.update(ctx, id, func(a *ledger.Account) error {
		if a.Status == ledger.AccountClosed && status != ledger.AccountClosed {
			return apperrors.Validation("account is closed")
		}
		a.Status = status
		return nil
	})
}

func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(a *ledger.Account) error) (ledger.Account, error) {
	var out ledger.Account
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			return err
		}
		a.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return ledger.Account{}, err
	}
	s.logger.Info("account updated",
		slog.String("account_id", id.String()),
		slog.String("status", string(out.Status)),
		slog.Bool("kyc_verified", out.KYCVerified),
	)
	return out, nil
}
