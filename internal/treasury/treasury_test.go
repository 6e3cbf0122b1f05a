package treasury

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
)

type operators []string

func (o operators) IsOperator(id string) bool {
	for _, op := range o {
		if op == id {
			return true
		}
	}
	return false
}

func fundedStore(t *testing.T, profit string) *ledger.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.CreateRound(ctx, &ledger.Round{Number: 1, Status: ledger.RoundCrashed}))
	require.NoError(t, store.SettleRound(ctx, ledger.Settlement{
		Round:       ledger.Round{Number: 1, Status: ledger.RoundSettled},
		Allocations: Split(1, decimal.RequireFromString(profit)),
	}))
	return store
}

func TestFeeDistribution(t *testing.T) {
	svc := NewService(fundedStore(t, "15"), operators{})

	fees, err := svc.FeeDistribution(context.Background())
	require.NoError(t, err)

	assert.True(t, fees.TotalBalance.Equal(decimal.NewFromInt(15)))
	require.Len(t, fees.Vaults, 4)
	assert.Equal(t, ledger.VaultHouse, fees.Vaults[0].Type)
	assert.Equal(t, int64(40), fees.Vaults[0].Percentage)
	assert.True(t, fees.Vaults[0].Balance.Equal(decimal.NewFromInt(6)))
}

func TestAdminWithdrawal(t *testing.T) {
	ctx := context.Background()
	valid := WithdrawalRequest{
		Vault:       ledger.VaultHouse,
		Amount:      decimal.RequireFromString("2.5"),
		Destination: "treasury-cold-wallet",
		Operator:    "ops-1",
		Reason:      "quarterly reserve transfer",
	}

	t.Run("unknown operator is forbidden", func(t *testing.T) {
		svc := NewService(fundedStore(t, "15"), operators{"ops-1"})
		req := valid
		req.Operator = "mallory"
		_, _, err := svc.AdminWithdrawal(ctx, req)
		assert.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("validation", func(t *testing.T) {
		svc := NewService(fundedStore(t, "15"), operators{"ops-1"})

		req := valid
		req.Amount = decimal.Zero
		_, _, err := svc.AdminWithdrawal(ctx, req)
		assert.ErrorIs(t, err, errs.ErrValidation)

		req = valid
		req.Reason = " "
		_, _, err = svc.AdminWithdrawal(ctx, req)
		assert.ErrorIs(t, err, errs.ErrValidation)

		req = valid
		req.Vault = "staking"
		_, _, err = svc.AdminWithdrawal(ctx, req)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc := NewService(fundedStore(t, "15"), operators{"ops-1"})
		req := valid
		req.Amount = decimal.NewFromInt(7)
		_, _, err := svc.AdminWithdrawal(ctx, req)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("debits and audits", func(t *testing.T) {
		store := fundedStore(t, "15")
		svc := NewService(store, operators{"ops-1"})

		w, vault, err := svc.AdminWithdrawal(ctx, valid)
		require.NoError(t, err)
		assert.NotEmpty(t, w.ID)
		assert.True(t, vault.Balance.Equal(decimal.RequireFromString("3.5")))

		audit, err := svc.Withdrawals(ctx, 10)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, "ops-1", audit[0].Operator)
		assert.Equal(t, "treasury-cold-wallet", audit[0].Destination)
	})
}
