package treasury

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
)

type VaultShare struct {
	Type             ledger.VaultType `json:"type"`
	Balance          decimal.Decimal  `json:"balance"`
	TotalDistributed decimal.Decimal  `json:"total_distributed"`
	Percentage       int64            `json:"percentage"`
}

type FeeDistribution struct {
	Vaults       []VaultShare    `json:"vaults"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

type Service struct {
	store ledger.Store
	auth  Authorizer
	now   func() time.Time
}

func NewService(store ledger.Store, auth Authorizer) *Service {
	return &Service{store: store, auth: auth, now: time.Now}
}

func (s *Service) VaultBalances(ctx context.Context) ([]ledger.Vault, error) {
	vaults, err := s.store.Vaults(ctx)
	if err != nil {
		return nil, errs.Persistence("ledger unavailable", err)
	}
	return vaults, nil
}

func (s *Service) FeeDistribution(ctx context.Context) (*FeeDistribution, error) {
	vaults, err := s.VaultBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := &FeeDistribution{Vaults: make([]VaultShare, 0, len(vaults))}
	for _, v := range vaults {
		out.Vaults = append(out.Vaults, VaultShare{
			Type:             v.Type,
			Balance:          v.Balance,
			TotalDistributed: v.TotalDistributed,
			Percentage:       PercentOf(v.Type),
		})
		out.TotalBalance = out.TotalBalance.Add(v.Balance)
	}
	return out, nil
}
