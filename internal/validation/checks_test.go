package validation

import (
	"context"
	"testing"
)

func TestHeuristicCheck(t *testing.T) {
	check := HeuristicCheck()
	ctx := context.Background()

	tests := []struct {
		coinType  string
		wantValid bool
		wantRisk  float64
	}{
		{"0x2::sui::SUI", true, 0},
		{"0xabc123::pepe::PEPE", true, 5},
		{"0xabc123::testcoin::TESTCOIN", false, 9},
		{"0xabc123::drop::AIRDROP", false, 9},
		{"not-a-coin-type", false, 10},
		{"0xabc::too::many::parts", false, 10},
		{"abc::coin::COIN", false, 10},
	}

	for _, tt := range tests {
		rep, err := check(ctx, tt.coinType)
		if err != nil {
			t.Errorf("check(%s): %v", tt.coinType, err)
			continue
		}
		if rep.Valid != tt.wantValid {
			t.Errorf("check(%s).Valid = %v, want %v", tt.coinType, rep.Valid, tt.wantValid)
		}
		if rep.RiskScore != tt.wantRisk {
			t.Errorf("check(%s).RiskScore = %v, want %v", tt.coinType, rep.RiskScore, tt.wantRisk)
		}
		if !rep.Valid && rep.Reason == "" {
			t.Errorf("check(%s) invalid without reason", tt.coinType)
		}
	}
}

func TestRunCheck_PanicIsolation(t *testing.T) {
	rep := runCheck(context.Background(), func(context.Context, string) (Report, error) {
		panic("boom")
	}, "0x2::sui::SUI")

	if rep.Valid {
		t.Error("panicking check must count as invalid")
	}
	if rep.Reason != "check panicked" {
		t.Errorf("reason = %q", rep.Reason)
	}
}
