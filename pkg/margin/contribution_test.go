// 文件: pkg/margin/contribution_test.go
// 贡献模型单元测试

package margin

import (
	"errors"
	"testing"
)

// testMarketState 测试用市场状态
//
// 市场 0: USDC (价格 $1, 资产权重 100%)
// 市场 1: BTC 现货 (价格 $50000, Initial 80%/120%, Maintenance 90%/110%)
// 永续 0: BTC-PERP (价格 $50000, Initial 10%, Maintenance 5%)
func testMarketState() *MarketState {
	state := NewMarketState()

	state.SetSpotMarket(SpotMarket{
		MarketIndex:                0,
		OraclePrice:                1 * Precision,
		InitialAssetWeight:         WeightPrecision,
		MaintenanceAssetWeight:     WeightPrecision,
		InitialLiabilityWeight:     WeightPrecision,
		MaintenanceLiabilityWeight: WeightPrecision,
	})
	state.SetSpotMarket(SpotMarket{
		MarketIndex:                1,
		OraclePrice:                50_000 * Precision,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
	})
	state.SetPerpMarket(PerpMarket{
		MarketIndex:            0,
		OraclePrice:            50_000 * Precision,
		MarginRatioInitial:     1000,
		MarginRatioMaintenance: 500,
	})

	return state
}

func TestSpotContribution_Deposit(t *testing.T) {
	state := testMarketState()

	// 存 2 BTC @ $50000, Initial 资产权重 80%
	pos := SpotPosition{MarketIndex: 1, Balance: 2 * Precision}

	c, err := calculateSpotContribution(pos, state, Initial, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 资产价值 = 2 × 50000 × 0.8 = 80000
	if c.AssetValue != 80_000*Precision {
		t.Errorf("expected asset value 80000, got %d", c.AssetValue/Precision)
	}
	if c.LiabilityValue != 0 || c.PnL != 0 {
		t.Errorf("deposit should have zero liability/pnl: %+v", c)
	}
	if c.AppliedWeight != 8000 {
		t.Errorf("expected applied weight 8000, got %d", c.AppliedWeight)
	}
	if c.MarginType != Initial {
		t.Errorf("expected margin type INITIAL, got %v", c.MarginType)
	}
}

func TestSpotContribution_Borrow(t *testing.T) {
	state := testMarketState()

	// 借 1 BTC @ $50000
	pos := SpotPosition{MarketIndex: 1, Balance: -1 * Precision}

	// Initial: 负债权重 120%
	c, err := calculateSpotContribution(pos, state, Initial, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LiabilityValue != 60_000*Precision {
		t.Errorf("initial: expected liability 60000, got %d", c.LiabilityValue/Precision)
	}
	if c.AssetValue != 0 {
		t.Errorf("borrow should have zero asset value, got %d", c.AssetValue)
	}

	// Maintenance: 负债权重 110% (比 Initial 宽松)
	c, err = calculateSpotContribution(pos, state, Maintenance, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LiabilityValue != 55_000*Precision {
		t.Errorf("maintenance: expected liability 55000, got %d", c.LiabilityValue/Precision)
	}
}

func TestSpotContribution_BorrowWithBuffer(t *testing.T) {
	state := testMarketState()

	// 借 1 BTC, 缓冲 100 (1%)
	pos := SpotPosition{MarketIndex: 1, Balance: -1 * Precision}

	c, err := calculateSpotContribution(pos, state, Maintenance, 100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 缓冲按未加权 token 价值 (50000) 加成: 55000 + 50000×1% = 55500
	if c.LiabilityBuffer != 55_500*Precision {
		t.Errorf("expected liability buffer 55500, got %d", c.LiabilityBuffer/Precision)
	}
}

func TestSpotContribution_ClosedPosition(t *testing.T) {
	state := testMarketState()

	c, err := calculateSpotContribution(SpotPosition{MarketIndex: 1, Balance: 0}, state, Initial, 100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsZero() {
		t.Errorf("closed position should contribute zero: %+v", c)
	}
}

func TestSpotContribution_UnknownMarket(t *testing.T) {
	state := testMarketState()

	_, err := calculateSpotContribution(SpotPosition{MarketIndex: 99, Balance: 100}, state, Initial, 0, 100)
	if !errors.Is(err, ErrInvalidMarketState) {
		t.Errorf("expected ErrInvalidMarketState, got %v", err)
	}
}

func TestPerpContribution_Long(t *testing.T) {
	state := testMarketState()

	// 多 1 BTC-PERP, 开仓 $40000, 标记 $50000
	pos := PerpPosition{MarketIndex: 0, BaseAmount: 1 * Precision, EntryPrice: 40_000 * Precision}

	c, err := calculatePerpContribution(pos, state, Maintenance, 0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// PnL = 1 × (50000 - 40000) = 10000
	if c.PnL != 10_000*Precision {
		t.Errorf("expected pnl 10000, got %d", c.PnL/Precision)
	}
	// 负债 = 50000 × 5% = 2500
	if c.LiabilityValue != 2500*Precision {
		t.Errorf("expected liability 2500, got %d", c.LiabilityValue/Precision)
	}
	// 永续敞口从不直接产生抵押品
	if c.AssetValue != 0 {
		t.Errorf("perp should have zero asset value, got %d", c.AssetValue)
	}
}

func TestPerpContribution_ShortWithFunding(t *testing.T) {
	state := testMarketState()

	// 空 2 BTC-PERP, 开仓 $60000, 标记 $50000, 未结算资金费 +100
	pos := PerpPosition{
		MarketIndex:      0,
		BaseAmount:       -2 * Precision,
		EntryPrice:       60_000 * Precision,
		UnsettledFunding: 100 * Precision,
	}

	c, err := calculatePerpContribution(pos, state, Maintenance, 0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// PnL = -2 × (50000 - 60000) + 100 = 20100
	if c.PnL != 20_100*Precision {
		t.Errorf("expected pnl 20100, got %d", c.PnL/Precision)
	}
	// 负债 = |−2| × 50000 × 5% = 5000
	if c.LiabilityValue != 5000*Precision {
		t.Errorf("expected liability 5000, got %d", c.LiabilityValue/Precision)
	}
}

func TestPerpContribution_UserCustomRatio(t *testing.T) {
	state := testMarketState()

	pos := PerpPosition{MarketIndex: 0, BaseAmount: 1 * Precision, EntryPrice: 50_000 * Precision}

	// Initial: 用户自定义 20% > 市场 10%，取 max
	c, err := calculatePerpContribution(pos, state, Initial, 2000, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AppliedWeight != 2000 {
		t.Errorf("initial: expected applied ratio 2000, got %d", c.AppliedWeight)
	}
	if c.LiabilityValue != 10_000*Precision {
		t.Errorf("initial: expected liability 10000, got %d", c.LiabilityValue/Precision)
	}

	// Maintenance: 用户自定义不生效
	c, err = calculatePerpContribution(pos, state, Maintenance, 2000, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AppliedWeight != 500 {
		t.Errorf("maintenance: expected applied ratio 500, got %d", c.AppliedWeight)
	}
}

func TestPerpContribution_NegativePnLBuffer(t *testing.T) {
	state := testMarketState()

	// 多 1 BTC, 开仓 $60000, 标记 $50000 → PnL = -10000
	pos := PerpPosition{MarketIndex: 0, BaseAmount: 1 * Precision, EntryPrice: 60_000 * Precision}

	c, err := calculatePerpContribution(pos, state, Maintenance, 0, 100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 抵押缓冲 = -10000 × 1% = -100 (只对负 PnL 追加)
	if c.CollateralBuffer != -100*Precision {
		t.Errorf("expected collateral buffer -100, got %d", c.CollateralBuffer/Precision)
	}
	// 负债缓冲 = 2500 + 50000×1% = 3000
	if c.LiabilityBuffer != 3000*Precision {
		t.Errorf("expected liability buffer 3000, got %d", c.LiabilityBuffer/Precision)
	}
}

func TestPerpContribution_Overflow(t *testing.T) {
	state := NewMarketState()
	state.SetPerpMarket(PerpMarket{
		MarketIndex:            0,
		OraclePrice:            1 << 62,
		MarginRatioInitial:     1000,
		MarginRatioMaintenance: 500,
	})

	pos := PerpPosition{MarketIndex: 0, BaseAmount: 1 << 62, EntryPrice: 1}
	_, err := calculatePerpContribution(pos, state, Maintenance, 0, 0, 100)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}
