// 文件: pkg/margin/accumulator_test.go
// 累加器单元测试

package margin

import (
	"errors"
	"math"
	"testing"
)

func TestAccumulator_ApplyDelta_FirstInsert(t *testing.T) {
	var acc Accumulator

	// 首次折入 (old = nil)
	c := PositionContribution{
		Kind:           KindSpot,
		MarketIndex:    1,
		AssetValue:     100 * Precision,
		LiabilityValue: 20 * Precision,
	}
	acc, err := acc.applyDelta(nil, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acc.SpotAssetValue != 100*Precision {
		t.Errorf("expected spot asset 100, got %d", acc.SpotAssetValue/Precision)
	}
	if acc.SpotLiabilityValue != 20*Precision {
		t.Errorf("expected spot liability 20, got %d", acc.SpotLiabilityValue/Precision)
	}
	// 现货贡献绝不能流进永续标量
	if acc.PerpPnL != 0 || acc.PerpLiabilityValue != 0 {
		t.Errorf("spot contribution leaked into perp scalars: %+v", acc)
	}
}

func TestAccumulator_ApplyDelta_Replace(t *testing.T) {
	var acc Accumulator

	old := PositionContribution{Kind: KindPerp, MarketIndex: 0, PnL: 10 * Precision, LiabilityValue: 11 * Precision}
	acc, err := acc.applyDelta(nil, old)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 价格变化后替换: 减旧加新
	fresh := PositionContribution{Kind: KindPerp, MarketIndex: 0, PnL: -10 * Precision, LiabilityValue: 9 * Precision}
	acc, err = acc.applyDelta(&old, fresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acc.PerpPnL != -10*Precision {
		t.Errorf("expected perp pnl -10, got %d", acc.PerpPnL/Precision)
	}
	if acc.PerpLiabilityValue != 9*Precision {
		t.Errorf("expected perp liability 9, got %d", acc.PerpLiabilityValue/Precision)
	}
}

func TestAccumulator_ApplyDelta_IdenticalIsNoop(t *testing.T) {
	var acc Accumulator

	c := PositionContribution{Kind: KindPerp, MarketIndex: 0, PnL: 42 * Precision, LiabilityValue: 7 * Precision}
	acc, err := acc.applyDelta(nil, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := acc

	// 新 vs 新的 delta 是零
	acc, err = acc.applyDelta(&c, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc != before {
		t.Errorf("identical replace should be a no-op: before=%+v after=%+v", before, acc)
	}
}

func TestAccumulator_ApplyDelta_Overflow(t *testing.T) {
	acc := Accumulator{SpotAssetValue: math.MaxInt64}

	c := PositionContribution{Kind: KindSpot, AssetValue: 1}
	_, err := acc.applyDelta(nil, c)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAccumulator_DerivedMetrics(t *testing.T) {
	acc := Accumulator{
		SpotAssetValue:     1000 * Precision,
		SpotLiabilityValue: 200 * Precision,
		PerpPnL:            -50 * Precision,
		PerpLiabilityValue: 100 * Precision,
	}

	if acc.TotalCollateral() != 950*Precision {
		t.Errorf("expected total collateral 950, got %d", acc.TotalCollateral()/Precision)
	}
	if acc.MarginRequirement() != 300*Precision {
		t.Errorf("expected margin requirement 300, got %d", acc.MarginRequirement()/Precision)
	}
	if acc.FreeCollateral() != 650*Precision {
		t.Errorf("expected free collateral 650, got %d", acc.FreeCollateral()/Precision)
	}

	// 加和性: total - requirement == free，哪怕是负数
	acc.PerpPnL = -2000 * Precision
	if acc.TotalCollateral()-acc.MarginRequirement() != acc.FreeCollateral() {
		t.Error("additivity broken")
	}
	if acc.FreeCollateral() >= 0 {
		t.Error("expected negative free collateral (under-margin)")
	}
}
