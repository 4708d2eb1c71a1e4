// 文件: pkg/margin/cache_test.go

package margin

import "testing"

func TestContributionCache_InsertOrReplace(t *testing.T) {
	cache := newContributionCache()
	key := PositionKey{Kind: KindSpot, MarketIndex: 3}

	// 1. 空缓存查找
	if _, ok := cache.get(key); ok {
		t.Error("empty cache should not contain any key")
	}

	// 2. 首次插入: 无旧值
	first := PositionContribution{Kind: KindSpot, MarketIndex: 3, AssetValue: 100}
	prev, existed := cache.insertOrReplace(key, first)
	if existed {
		t.Errorf("first insert should report no previous value, got %+v", prev)
	}

	// 3. 替换: 返回旧值
	second := PositionContribution{Kind: KindSpot, MarketIndex: 3, AssetValue: 200}
	prev, existed = cache.insertOrReplace(key, second)
	if !existed {
		t.Error("replace should report previous value")
	}
	if prev.AssetValue != 100 {
		t.Errorf("expected previous asset value 100, got %d", prev.AssetValue)
	}

	got, ok := cache.get(key)
	if !ok || got.AssetValue != 200 {
		t.Errorf("expected current asset value 200, got %+v (ok=%v)", got, ok)
	}

	// 4. 现货和永续的 key 空间互相独立
	perpKey := PositionKey{Kind: KindPerp, MarketIndex: 3}
	if _, ok := cache.get(perpKey); ok {
		t.Error("spot entry must not be visible under perp key")
	}
	cache.insertOrReplace(perpKey, PositionContribution{Kind: KindPerp, MarketIndex: 3, PnL: 7})
	if cache.len() != 2 {
		t.Errorf("expected 2 entries, got %d", cache.len())
	}
}
