// 文件: pkg/margin/model.go
// 保证金计算核心数据结构
//
// 【设计原则】
// 1. 所有金额使用 int64 定点数，禁止 float64
//    → 浮点数有精度问题，金融账本必须可精确复现
// 2. 核心结构不持有 User/MarketState 的引用
//    → 快照只在一次调用期间借用，生命周期互不绑定

package margin

// =============================================================================
// 精度常量
// =============================================================================

const (
	// Precision 金额/价格/数量精度因子
	// 所有金额存储为 int64，乘以 10^8
	// 例: 1.5 BTC = 150_000_000
	Precision = 100_000_000

	// WeightPrecision 权重/保证金率精度 (万分比)
	// 例: 资产权重 80% = 8000, 维持保证金率 5% = 500
	WeightPrecision = 10_000
)

// =============================================================================
// 保证金类型
// =============================================================================

// MarginRequirementType 保证金需求类型
//
// 一个 CachedMarginCalculation 实例的类型在构造时固定，
// 不允许中途切换 (Initial 和 Maintenance 的权重表不同，混用会算错)。
type MarginRequirementType int8

const (
	// Initial 初始保证金 (开仓时检查，权重更保守)
	Initial MarginRequirementType = iota

	// Maintenance 维持保证金 (低于这条线触发强平)
	Maintenance
)

func (t MarginRequirementType) String() string {
	if t == Initial {
		return "INITIAL"
	}
	return "MAINTENANCE"
}

// =============================================================================
// 仓位类型与标识
// =============================================================================

// PositionKind 仓位类型
//
// 产品集合是封闭的 (现货/永续)，用 tagged 枚举 + 穷举 switch，
// 不做开放式多态。
type PositionKind int8

const (
	KindSpot PositionKind = iota // 现货余额 (存款/借款)
	KindPerp                     // 永续合约
)

func (k PositionKind) String() string {
	if k == KindSpot {
		return "SPOT"
	}
	return "PERP"
}

// PositionKey 仓位唯一标识
//
// 同一账户在同一个现货市场最多一条现货仓位，
// 在同一个永续市场最多一条合约仓位。
// 现货和永续的 market index 空间互相独立，所以 key 里要带 Kind。
type PositionKey struct {
	Kind        PositionKind
	MarketIndex uint16
}

// =============================================================================
// 账户快照
// =============================================================================

// SpotPosition 现货仓位快照
//
// Balance > 0: 存款 (计入抵押品)
// Balance < 0: 借款 (计入负债)
// Balance = 0: 已平仓 (贡献为零)
type SpotPosition struct {
	MarketIndex uint16
	Balance     int64 // 带符号 token 数量, 1e8 精度
}

// PerpPosition 永续合约仓位快照
type PerpPosition struct {
	MarketIndex uint16
	BaseAmount  int64 // 带符号数量 (+多, -空), 1e8 精度
	EntryPrice  int64 // 开仓均价, 1e8 精度

	// UnsettledFunding 未结算资金费 (正数=应收，负数=应付)
	// 直接计入未实现盈亏
	UnsettledFunding int64
}

// User 账户快照
//
// 由外部 (数据库/链上解码层) 组装好后传入，
// 核心不校验快照和底层账本的一致性，那是调用方的责任。
type User struct {
	UserID        int64
	SpotPositions []SpotPosition
	PerpPositions []PerpPosition

	// MaxMarginRatio 用户自定义保证金率 (万分比)
	// 用户可以主动调低自己的杠杆上限。
	// 只在 Initial 模式下生效，对合约仓位取 max(市场保证金率, 用户自定义)。
	MaxMarginRatio int64
}

// =============================================================================
// 仓位贡献
// =============================================================================

// PositionContribution 单条仓位对账户风险指标的贡献 (缓存单元)
//
// 【关键不变量】
// 缓存里的贡献必须和它被累加进 Accumulator 时的数值完全一致，
// 否则增量更新 (减旧加新) 会静默漂移 —— 不会崩溃，但数字是错的。
// 所以缓存和累加器必须作为一个原子操作一起更新。
type PositionContribution struct {
	Kind        PositionKind
	MarketIndex uint16

	// AssetValue 抵押品价值 (仅现货存款，永续恒为 0)
	AssetValue int64

	// LiabilityValue 负债价值
	// 现货: 借款价值 × 负债权重
	// 永续: 名义价值 × 保证金率
	LiabilityValue int64

	// PnL 未实现盈亏 (仅永续，现货恒为 0)
	// 永续仓位不直接产生抵押品，只通过 PnL 影响总抵押
	PnL int64

	// CollateralBuffer 抵押品缓冲 (PnL 为负时的额外折减, <= 0)
	CollateralBuffer int64

	// LiabilityBuffer 负债缓冲 (LiabilityValue + 缓冲加成)
	LiabilityBuffer int64

	// AppliedWeight 本次计算实际使用的权重/保证金率 (万分比)
	// 记录下来是为了排查: 同一个仓位在不同时点用了哪张权重表
	AppliedWeight int64

	// MarginType 本次计算使用的保证金类型
	// 必须和所属 CachedMarginCalculation 的类型一致
	MarginType MarginRequirementType

	// LastUpdated 贡献对应的快照时间戳
	LastUpdated int64
}

// IsZero 贡献是否为零值
// 已平仓的仓位会以零值贡献留在缓存里 (而不是删除条目)，
// 零值对累加器每个字段的贡献都是 0，留着不影响正确性。
func (c *PositionContribution) IsZero() bool {
	return c.AssetValue == 0 && c.LiabilityValue == 0 && c.PnL == 0 &&
		c.CollateralBuffer == 0 && c.LiabilityBuffer == 0
}
