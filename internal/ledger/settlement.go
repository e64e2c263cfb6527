package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Fixed-point scales used by the binary market contract.
const (
	priceDecimals = 18
	stakeDecimals = 6
)

func (l *Ledger) deploy(ctx context.Context, m domain.Market) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.SettleTimeout)
	defer cancel()

	addr, err := l.settlement.Deploy(ctx, l.contract,
		m.Question,
		big.NewInt(m.EndTime.Unix()),
		l.stakeToken,
		scalePrice(m.YesPrice),
		scalePrice(m.NoPrice),
	)
	if err != nil {
		return "", domain.CollaboratorError("ledger: deploy "+l.contract.Name, domain.ErrSettlementFailed, err)
	}
	l.logger.InfoContext(ctx, "market contract deployed",
		slog.String("market_id", m.ID),
		slog.String("contract", addr),
	)
	return addr, nil
}

// call invokes a state-changing contract method and returns the transaction
// reference reported by the backend, if any.
func (l *Ledger) call(ctx context.Context, addr, method string, args ...any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.SettleTimeout)
	defer cancel()

	out, err := l.settlement.Call(ctx, addr, method, args...)
	if err != nil {
		return "", domain.CollaboratorError(fmt.Sprintf("ledger: %s on %s", method, addr), domain.ErrSettlementFailed, err)
	}
	if len(out) > 0 {
		if ref, ok := out[0].(string); ok {
			return ref, nil
		}
	}
	return "", nil
}

func scalePrice(p float64) *big.Int {
	return decimal.NewFromFloat(p).Shift(priceDecimals).BigInt()
}

func scaleStake(amount decimal.Decimal) *big.Int {
	return amount.Shift(stakeDecimals).BigInt()
}
