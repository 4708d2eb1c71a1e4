// 文件: pkg/margin/market.go
// 市场状态快照 - 每个市场的预言机价格 + 权重表

package margin

// =============================================================================
// 市场定义
// =============================================================================

// SpotMarket 现货市场参数 + 当前预言机价格
//
// 权重都是万分比 (WeightPrecision):
// - 资产权重 < 10000: 存款打折计入抵押品 (Initial 折得更狠)
// - 负债权重 > 10000: 借款加成计入负债 (Initial 加得更多)
type SpotMarket struct {
	MarketIndex uint16

	OraclePrice int64 // 1e8 精度

	InitialAssetWeight     int64 // 例: 8000 = 80%
	MaintenanceAssetWeight int64 // 例: 9000 = 90%

	InitialLiabilityWeight     int64 // 例: 12000 = 120%
	MaintenanceLiabilityWeight int64 // 例: 11000 = 110%
}

// AssetWeight 按保证金类型取资产权重
func (m *SpotMarket) AssetWeight(t MarginRequirementType) int64 {
	if t == Initial {
		return m.InitialAssetWeight
	}
	return m.MaintenanceAssetWeight
}

// LiabilityWeight 按保证金类型取负债权重
func (m *SpotMarket) LiabilityWeight(t MarginRequirementType) int64 {
	if t == Initial {
		return m.InitialLiabilityWeight
	}
	return m.MaintenanceLiabilityWeight
}

// PerpMarket 永续市场参数 + 当前预言机价格
type PerpMarket struct {
	MarketIndex uint16

	OraclePrice int64 // 1e8 精度

	MarginRatioInitial     int64 // 例: 1000 = 10% (10倍杠杆)
	MarginRatioMaintenance int64 // 例: 500 = 5%
}

// MarginRatio 按保证金类型取保证金率
func (m *PerpMarket) MarginRatio(t MarginRequirementType) int64 {
	if t == Initial {
		return m.MarginRatioInitial
	}
	return m.MarginRatioMaintenance
}

// =============================================================================
// MarketState - 市场状态快照
// =============================================================================

// MarketState 一次计算所需的全部市场数据
//
// 价格的时效性由调用方保证: 传入的快照应当反映 timestamp 时刻的价格。
// 核心不做任何时间相关的检查 —— 拿过期快照来算是调用方的错误。
type MarketState struct {
	SpotMarkets map[uint16]SpotMarket
	PerpMarkets map[uint16]PerpMarket
}

// NewMarketState 创建空的市场状态
func NewMarketState() *MarketState {
	return &MarketState{
		SpotMarkets: make(map[uint16]SpotMarket),
		PerpMarkets: make(map[uint16]PerpMarket),
	}
}

// SetSpotMarket 写入现货市场
func (s *MarketState) SetSpotMarket(m SpotMarket) {
	s.SpotMarkets[m.MarketIndex] = m
}

// SetPerpMarket 写入永续市场
func (s *MarketState) SetPerpMarket(m PerpMarket) {
	s.PerpMarkets[m.MarketIndex] = m
}

// SpotMarket 查询现货市场，缺失返回 ErrInvalidMarketState
func (s *MarketState) SpotMarket(marketIndex uint16) (SpotMarket, error) {
	m, ok := s.SpotMarkets[marketIndex]
	if !ok {
		return SpotMarket{}, invalidMarketf("spot market %d", marketIndex)
	}
	return m, nil
}

// PerpMarket 查询永续市场，缺失返回 ErrInvalidMarketState
func (s *MarketState) PerpMarket(marketIndex uint16) (PerpMarket, error) {
	m, ok := s.PerpMarkets[marketIndex]
	if !ok {
		return PerpMarket{}, invalidMarketf("perp market %d", marketIndex)
	}
	return m, nil
}
