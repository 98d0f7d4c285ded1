package validation

import (
	"context"
	"strings"
)

// Report is the outcome of a single token check.
type Report struct {
	Valid     bool
	RiskScore float64 // 0 (safe) .. 10 (certain rug)
	Reason    string  // set when Valid is false
}

// TokenCheck inspects one coin type of a pool. Implementations are supplied
// by the scoring layer; the validator only consumes the contract. A check
// that returns an error or panics counts as invalid for that side, never as
// a pipeline failure.
type TokenCheck func(ctx context.Context, coinType string) (Report, error)

// Coin types trusted without further inspection.
var knownCoins = map[string]struct{}{
	"0x2::sui::SUI": {},
	"0x5d4b302506645c37ff133b98c4b50a5ae14841659738d6d733d59d0d217a93bf::coin::COIN": {}, // wormhole USDC
	"0xdba34672e30cb065b1f93e3ab55318768fd6fef66c15942c9f7cb846e2f900e7::usdc::USDC": {},
}

// HeuristicCheck returns a TokenCheck that scores a coin type from its type
// path alone, without touching the chain. Known majors pass at zero risk,
// structurally broken paths fail, everything else passes at moderate risk so
// the downstream filter chain can apply its own threshold.
func HeuristicCheck() TokenCheck {
	return func(_ context.Context, coinType string) (Report, error) {
		if _, ok := knownCoins[coinType]; ok {
			return Report{Valid: true, RiskScore: 0}, nil
		}

		parts := strings.Split(coinType, "::")
		if len(parts) != 3 || !strings.HasPrefix(parts[0], "0x") {
			return Report{Valid: false, RiskScore: 10, Reason: "malformed coin type"}, nil
		}

		name := strings.ToUpper(parts[2])
		for _, marker := range []string{"TEST", "FAUCET", "AIRDROP"} {
			if strings.Contains(name, marker) {
				return Report{Valid: false, RiskScore: 9, Reason: "suspicious coin name: " + parts[2]}, nil
			}
		}

		return Report{Valid: true, RiskScore: 5}, nil
	}
}

// runCheck invokes a check with panic isolation.
func runCheck(ctx context.Context, check TokenCheck, coinType string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			report = Report{Valid: false, RiskScore: 10, Reason: "check panicked"}
		}
	}()

	rep, err := check(ctx, coinType)
	if err != nil {
		return Report{Valid: false, RiskScore: 10, Reason: err.Error()}
	}
	return rep
}
