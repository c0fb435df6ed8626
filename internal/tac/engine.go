package tac

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
)

const (
	// CodeLength is the number of digits in an authorization code.
	CodeLength = 6

	DefaultTTL         = 15 * time.Minute
	DefaultMaxAttempts = 5
)

// Policy fixes how codes are issued and how many guesses they tolerate.
type Policy struct {
	TTL         time.Duration
	MaxAttempts int
	HashCost    int
}

// DefaultPolicy is the single expiry/attempt policy applied to every transfer.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL, MaxAttempts: DefaultMaxAttempts, HashCost: bcrypt.DefaultCost}
}

// Issued is returned once to the caller; the plain code is not persisted.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Engine issues and verifies transfer authorization codes. All methods run
// inside the caller's unit so the TAC changes commit with the transfer.
type Engine struct {
	policy Policy
	now    func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine, filling zero policy fields with defaults.
func NewEngine(p Policy, opts ...Option) *Engine {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.HashCost < bcrypt.MinCost || p.HashCost > bcrypt.MaxCost {
		p.HashCost = bcrypt.DefaultCost
	}
	e := &Engine{policy: p, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy { return e.policy }

// Issue generates a fresh code for the transfer, replacing any previous one.
func (e *Engine) Issue(ctx context.Context, tx ledger.Tx, transferID uuid.UUID) (Issued, error) {
	code, err := generateCode()
	if err != nil {
		return Issued{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), e.policy.HashCost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash tac: %w", err)
	}
	now := e.now()
	t := ledger.TAC{
		TransferID: transferID,
		CodeHash:   hash,
		Status:     ledger.TACPending,
		ExpiresAt:  now.Add(e.policy.TTL),
		CreatedAt:  now,
	}
	if err := tx.UpsertTAC(ctx, t); err != nil {
		return Issued{}, err
	}
	return Issued{Code: code, ExpiresAt: t.ExpiresAt}, nil
}

// Verify checks a submitted code and consumes the TAC on success.
//
// A failed verification may still change the TAC (attempt counter, expiry
// mark). Callers that want those changes kept must commit the unit even when
// Verify returns an error.
func (e *Engine) Verify(ctx context.Context, tx ledger.Tx, transferID uuid.UUID, code string) error {
	t, err := tx.LockTAC(ctx, transferID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrTACInvalid
		}
		return err
	}
	now := e.now()

	switch {
	case t.Status == ledger.TACUsed:
		return apperrors.ErrTACInvalid
	case now.After(t.ExpiresAt):
		if t.Status == ledger.TACPending {
			if err := e.expire(ctx, tx, t); err != nil {
				return err
			}
		}
		return apperrors.ErrTACExpired
	case t.Status != ledger.TACPending:
		return apperrors.ErrTACInvalid
	case t.Attempts >= e.policy.MaxAttempts:
		if err := e.expire(ctx, tx, t); err != nil {
			return err
		}
		return apperrors.ErrTACInvalid
	}

	if len(code) != CodeLength || bcrypt.CompareHashAndPassword(t.CodeHash, []byte(code)) != nil {
		t.Attempts++
		if t.Attempts >= e.policy.MaxAttempts {
			t.Status = ledger.TACExpired
		}
		if err := tx.UpdateTAC(ctx, t); err != nil {
			return err
		}
		return apperrors.ErrTACInvalid
	}

	ok, err := tx.ConsumeTAC(ctx, transferID, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrTACInvalid
	}
	return nil
}

// Revoke marks a pending TAC expired. A missing or already settled TAC is left alone.
func (e *Engine) Revoke(ctx context.Context, tx ledger.Tx, transferID uuid.UUID) error {
	t, err := tx.LockTAC(ctx, transferID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if t.Status != ledger.TACPending {
		return nil
	}
	return e.expire(ctx, tx, t)
}

func (e *Engine) expire(ctx context.Context, tx ledger.Tx, t ledger.TAC) error {
	t.Status = ledger.TACExpired
	return tx.UpdateTAC(ctx, t)
}

var codeSpace = big.NewInt(1_000_000)

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate tac: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
