// 文件: pkg/market/oracle_test.go

package market

import (
	"testing"

	"marginx.com/pkg/margin"
)

func testSpotMarket(idx uint16, price int64) margin.SpotMarket {
	return margin.SpotMarket{
		MarketIndex:                idx,
		OraclePrice:                price,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
	}
}

func TestOracleService_UpdateAndSnapshot(t *testing.T) {
	svc := NewOracleService()
	svc.RegisterSpotMarket(testSpotMarket(0, 100*margin.Precision))
	svc.RegisterPerpMarket(margin.PerpMarket{
		MarketIndex:            0,
		OraclePrice:            100 * margin.Precision,
		MarginRatioInitial:     1000,
		MarginRatioMaintenance: 500,
	})

	// 1. 更新已注册市场
	if err := svc.UpdateSpotOracle(0, 120*margin.Precision, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := svc.SpotPrice(0); got != 120*margin.Precision {
		t.Errorf("expected spot price 120, got %d", got/margin.Precision)
	}
	if got := svc.LastUpdated(margin.KindSpot, 0); got != 1000 {
		t.Errorf("expected last updated 1000, got %d", got)
	}

	// 2. 未注册市场被拒绝
	if err := svc.UpdateSpotOracle(99, 1, 1000); err == nil {
		t.Error("unregistered market should be rejected")
	}

	// 3. 非法价格被拒绝
	if err := svc.UpdatePerpOracle(0, 0, 1000); err == nil {
		t.Error("zero price should be rejected")
	}

	// 4. 快照是深拷贝: 快照后的价格更新不影响已导出的快照
	snap := svc.Snapshot()
	if err := svc.UpdateSpotOracle(0, 200*margin.Precision, 2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mkt, err := snap.SpotMarket(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mkt.OraclePrice != 120*margin.Precision {
		t.Errorf("snapshot should be immutable, got price %d", mkt.OraclePrice/margin.Precision)
	}
}

func TestOracleService_UpdateCallback(t *testing.T) {
	svc := NewOracleService()
	svc.RegisterPerpMarket(margin.PerpMarket{MarketIndex: 3, OraclePrice: 1, MarginRatioMaintenance: 500})

	var gotKind margin.PositionKind
	var gotIdx uint16
	var calls int
	svc.SetOnUpdate(func(kind margin.PositionKind, marketIndex uint16, timestamp int64) {
		gotKind, gotIdx = kind, marketIndex
		calls++
	})

	if err := svc.UpdatePerpOracle(3, 42, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || gotKind != margin.KindPerp || gotIdx != 3 {
		t.Errorf("callback not fired correctly: calls=%d kind=%v idx=%d", calls, gotKind, gotIdx)
	}

	// 失败的更新不触发回调
	svc.UpdatePerpOracle(99, 42, 1)
	if calls != 1 {
		t.Errorf("failed update must not fire callback, calls=%d", calls)
	}
}
