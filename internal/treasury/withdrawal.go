package treasury

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
)

// WithdrawalRequest moves funds out of a vault to an external destination.
// It is an administrative transfer, never part of round settlement.
type WithdrawalRequest struct {
	Vault       ledger.VaultType `json:"vault"`
	Amount      decimal.Decimal  `json:"amount"`
	Destination string           `json:"destination"`
	Operator    string           `json:"operator"`
	Reason      string           `json:"reason"`
}

// Authorizer decides whether an operator may move treasury funds.
type Authorizer interface {
	IsOperator(id string) bool
}

// AdminWithdrawal debits a vault on behalf of an allowlisted operator and
// records an audit entry in the same transaction as the debit.
func (s *Service) AdminWithdrawal(ctx context.Context, req WithdrawalRequest) (*ledger.Withdrawal, *ledger.Vault, error) {
	if req.Operator == "" || s.auth == nil || !s.auth.IsOperator(req.Operator) {
		logger.Warn("Treasury withdrawal refused", "operator", req.Operator, "vault", req.Vault)
		return nil, nil, errs.Forbidden("not authorized")
	}
	if !req.Vault.Valid() {
		return nil, nil, errs.NotFound("vault not found")
	}
	if !req.Amount.IsPositive() {
		return nil, nil, errs.Validation("amount must be positive")
	}
	if req.Amount.Exponent() < -ledger.MoneyScale {
		return nil, nil, errs.Validation("amount has too many decimal places")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, nil, errs.Validation("destination is required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, nil, errs.Validation("reason is required")
	}

	w := ledger.Withdrawal{
		ID:          uuid.NewString(),
		Vault:       req.Vault,
		Amount:      req.Amount,
		Destination: req.Destination,
		Operator:    req.Operator,
		Reason:      req.Reason,
		CreatedAt:   s.now().UTC(),
	}

	vault, err := s.store.Withdraw(ctx, w)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return nil, nil, errs.Conflict("insufficient vault balance")
	case errors.Is(err, ledger.ErrNotFound):
		return nil, nil, errs.NotFound("vault not found")
	case err != nil:
		return nil, nil, errs.Persistence("ledger unavailable", err)
	}

	logger.Warn("Treasury withdrawal executed",
		"id", w.ID,
		"vault", w.Vault,
		"amount", w.Amount.String(),
		"destination", w.Destination,
		"operator", w.Operator,
		"reason", w.Reason,
		"balance_after", vault.Balance.String(),
	)
	return &w, vault, nil
}

func (s *Service) Withdrawals(ctx context.Context, limit int) ([]ledger.Withdrawal, error) {
	ws, err := s.store.Withdrawals(ctx, limit)
	if err != nil {
		return nil, errs.Persistence("ledger unavailable", err)
	}
	return ws, nil
}
