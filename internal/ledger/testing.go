package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedWallet is a test helper that provisions an active account and its wallet
// with an opening balance. The opening balance is backed by a credit entry so
// the wallet reconciles against its ledger.
func SeedWallet(ctx context.Context, s Store, currency string, balance decimal.Decimal) (Account, Wallet, error) {
	now := time.Now().UTC()
	account := Account{ID: uuid.New(), Status: AccountActive, KYCVerified: true, CreatedAt: now, UpdatedAt: now}
	wallet := Wallet{ID: uuid.New(), AccountID: account.ID, Balance: balance, Currency: currency, CreatedAt: now, UpdatedAt: now}

	err := s.Do(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertWallet(ctx, wallet); err != nil {
			return err
		}
		if !balance.IsPositive() {
			return nil
		}
		_, err := tx.AppendEntry(ctx, Entry{
			ID:            uuid.New(),
			WalletID:      wallet.ID,
			Type:          EntryCredit,
			Amount:        balance,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  balance,
			Reference:     "SEED-" + wallet.ID.String(),
			Description:   "opening balance",
			CreatedAt:     now,
		})
		return err
	})
	return account, wallet, err
}
