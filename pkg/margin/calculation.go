// 文件: pkg/margin/calculation.go
// CachedMarginCalculation - 增量保证金计算 (核心编排)
//
// 【要解决的问题】
// 传统保证金引擎每次仓位变动都要对全部仓位做 O(n) 全量重算。
// 这里维护一份"每条仓位的贡献分解"，单仓变动时只减旧加新，
// O(1) 均摊完成更新，且和全量重算 bit-for-bit 一致。
//
// 【并发模型】
// 单一所有者，内部无锁、无阻塞点。多线程并发修改需要外部加锁；
// 没有 update 在途时并发只读是安全的。

package margin

// CachedMarginCalculation 带缓存的保证金计算
//
// 生命周期: FromUser 从完整账户快照一次性构造 (O(n) 不可避免的基线)，
// 之后任意次 UpdateSpotPosition / UpdatePerpPosition 原地更新，
// 随所有者一起丢弃，没有需要显式释放的资源。
// 缓存不做持久化，进程重启后必须用新快照重新构造。
type CachedMarginCalculation struct {
	// marginType 在构造时固定，整个生命周期不变
	// (Initial 和 Maintenance 的贡献不能混进同一个累加器)
	marginType MarginRequirementType

	// marginBuffer 额外缓冲 (万分比)，0 = 不启用
	marginBuffer int64

	// userCustomRatio 用户自定义保证金率，构造时从 User 捕获
	// (只在 Initial 模式下生效)
	userCustomRatio int64

	cache contributionCache
	acc   Accumulator

	userID      int64
	lastUpdated int64
}

// =============================================================================
// 构造
// =============================================================================

// FromUser 从完整账户快照构造增量计算对象
//
// 遍历每条现货和永续仓位，逐条计算贡献、写缓存、折进累加器。
// 任何一条仓位定价失败 (ErrInvalidMarketState / ErrOverflow)，
// 就返回包装后的 ConstructionError，不产出半初始化对象。
func FromUser(
	user *User,
	state *MarketState,
	marginType MarginRequirementType,
	marginBuffer int64,
	timestamp int64,
) (*CachedMarginCalculation, error) {
	userCustomRatio := int64(0)
	if marginType == Initial {
		userCustomRatio = user.MaxMarginRatio
	}

	c := &CachedMarginCalculation{
		marginType:      marginType,
		marginBuffer:    marginBuffer,
		userCustomRatio: userCustomRatio,
		cache:           newContributionCache(),
		userID:          user.UserID,
	}

	// 构造期间复用和增量更新完全相同的路径:
	// 同一条代码既处理"首次折入"也处理"减旧加新"，
	// 两条路径不可能算出不同的结果。
	for _, pos := range user.SpotPositions {
		if err := c.UpdateSpotPosition(pos, state, timestamp); err != nil {
			return nil, &ConstructionError{Err: err}
		}
	}
	for _, pos := range user.PerpPositions {
		if err := c.UpdatePerpPosition(pos, state, timestamp); err != nil {
			return nil, &ConstructionError{Err: err}
		}
	}

	c.lastUpdated = timestamp
	return c, nil
}

// =============================================================================
// 增量更新
// =============================================================================

// UpdateSpotPosition 更新单条现货仓位
//
// 只动这一个 key: 其他仓位的缓存贡献和累加器份额原封不动。
// 失败时对象保持上一次的完好状态 (先算后提交，算不出来就不碰状态)。
//
// 幂等: 相同 (仓位, 市场状态, 时间戳) 连续调两次，
// 第二次的 delta 是 新-vs-新，累加器不变。
func (c *CachedMarginCalculation) UpdateSpotPosition(pos SpotPosition, state *MarketState, timestamp int64) error {
	contribution, err := calculateSpotContribution(pos, state, c.marginType, c.marginBuffer, timestamp)
	if err != nil {
		return err
	}
	return c.commit(PositionKey{Kind: KindSpot, MarketIndex: pos.MarketIndex}, contribution, timestamp)
}

// UpdatePerpPosition 更新单条永续仓位
func (c *CachedMarginCalculation) UpdatePerpPosition(pos PerpPosition, state *MarketState, timestamp int64) error {
	contribution, err := calculatePerpContribution(pos, state, c.marginType, c.userCustomRatio, c.marginBuffer, timestamp)
	if err != nil {
		return err
	}
	return c.commit(PositionKey{Kind: KindPerp, MarketIndex: pos.MarketIndex}, contribution, timestamp)
}

// commit 缓存 + 累加器的原子提交
//
// 顺序必须是: 先在副本上算出新累加器，确认无溢出，
// 然后才写缓存、替换累加器。两者要么都更新要么都不更新 ——
// 只更新一边，增量不变量就静默破了。
func (c *CachedMarginCalculation) commit(key PositionKey, contribution PositionContribution, timestamp int64) error {
	var old *PositionContribution
	if prev, ok := c.cache.get(key); ok {
		old = &prev
	}

	newAcc, err := c.acc.applyDelta(old, contribution)
	if err != nil {
		return err
	}

	c.cache.insertOrReplace(key, contribution)
	c.acc = newAcc
	c.lastUpdated = timestamp
	return nil
}

// =============================================================================
// 只读访问 (O(1)，无副作用)
// =============================================================================

// GetTotalCollateral 总抵押 = 现货资产 + 永续 PnL
func (c *CachedMarginCalculation) GetTotalCollateral() int64 { return c.acc.TotalCollateral() }

// GetMarginRequirement 保证金需求 = 现货负债 + 永续负债
func (c *CachedMarginCalculation) GetMarginRequirement() int64 { return c.acc.MarginRequirement() }

// GetFreeCollateral 可用抵押，负数表示保证金不足
func (c *CachedMarginCalculation) GetFreeCollateral() int64 { return c.acc.FreeCollateral() }

// GetSpotAssetValue 现货资产价值
func (c *CachedMarginCalculation) GetSpotAssetValue() int64 { return c.acc.SpotAssetValue }

// GetSpotLiabilityValue 现货负债价值
func (c *CachedMarginCalculation) GetSpotLiabilityValue() int64 { return c.acc.SpotLiabilityValue }

// GetPerpPnL 永续未实现盈亏
func (c *CachedMarginCalculation) GetPerpPnL() int64 { return c.acc.PerpPnL }

// GetPerpLiabilityValue 永续保证金需求
func (c *CachedMarginCalculation) GetPerpLiabilityValue() int64 { return c.acc.PerpLiabilityValue }

// MarginType 本实例固定的保证金类型
func (c *CachedMarginCalculation) MarginType() MarginRequirementType { return c.marginType }

// UserID 所属账户
func (c *CachedMarginCalculation) UserID() int64 { return c.userID }

// LastUpdated 最后一次更新的时间戳
func (c *CachedMarginCalculation) LastUpdated() int64 { return c.lastUpdated }

// MeetsMarginRequirement 总抵押是否覆盖保证金需求
func (c *CachedMarginCalculation) MeetsMarginRequirement() bool {
	return c.acc.TotalCollateral() >= c.acc.MarginRequirement()
}

// CanBeLiquidated 可用抵押为负即可强平 (Maintenance 模式下有意义)
func (c *CachedMarginCalculation) CanBeLiquidated() bool {
	return c.acc.FreeCollateral() < 0
}

// GetTotalCollateralWithBuffer 总抵押 + 缓冲折减
func (c *CachedMarginCalculation) GetTotalCollateralWithBuffer() int64 {
	return c.acc.TotalCollateral() + c.acc.TotalCollateralBuffer
}

// GetFreeCollateralWithBuffer 缓冲视角下的可用抵押
// 比 GetFreeCollateral 先变负，用作强平前的预警线
func (c *CachedMarginCalculation) GetFreeCollateralWithBuffer() int64 {
	return c.GetTotalCollateralWithBuffer() - c.acc.MarginRequirementBuffer
}

// Snapshot 导出当前聚合值 (和全量重算的返回类型一致，便于对账)
func (c *CachedMarginCalculation) Snapshot() MarginCalculation {
	return MarginCalculation{
		SpotAssetValue:          c.acc.SpotAssetValue,
		SpotLiabilityValue:      c.acc.SpotLiabilityValue,
		PerpPnL:                 c.acc.PerpPnL,
		PerpLiabilityValue:      c.acc.PerpLiabilityValue,
		TotalCollateral:         c.acc.TotalCollateral(),
		MarginRequirement:       c.acc.MarginRequirement(),
		FreeCollateral:          c.acc.FreeCollateral(),
		TotalCollateralBuffer:   c.acc.TotalCollateralBuffer,
		MarginRequirementBuffer: c.acc.MarginRequirementBuffer,
	}
}

// =============================================================================
// 全量重算 (对账基准)
// =============================================================================

// MarginCalculation 一次完整计算的结果
type MarginCalculation struct {
	SpotAssetValue     int64
	SpotLiabilityValue int64
	PerpPnL            int64
	PerpLiabilityValue int64

	TotalCollateral   int64
	MarginRequirement int64
	FreeCollateral    int64

	TotalCollateralBuffer   int64
	MarginRequirementBuffer int64
}

// MeetsMarginRequirement 总抵押是否覆盖保证金需求
func (m MarginCalculation) MeetsMarginRequirement() bool {
	return m.TotalCollateral >= m.MarginRequirement
}

// CanBeLiquidated 可用抵押为负即可强平
func (m MarginCalculation) CanBeLiquidated() bool {
	return m.FreeCollateral < 0
}

// CalculateMarginRequirement 无缓存的一次性全量计算
//
// 独立实现 (直接逐仓累加，不经过缓存/delta 路径)。
// 增量路径的正确性就是拿它当基准验证的:
// 任意一串 update 之后，Snapshot() 必须和对最新快照做一次全量计算完全相等。
func CalculateMarginRequirement(
	user *User,
	state *MarketState,
	marginType MarginRequirementType,
	marginBuffer int64,
	timestamp int64,
) (MarginCalculation, error) {
	userCustomRatio := int64(0)
	if marginType == Initial {
		userCustomRatio = user.MaxMarginRatio
	}

	var acc Accumulator
	var err error

	for _, pos := range user.SpotPositions {
		contribution, cerr := calculateSpotContribution(pos, state, marginType, marginBuffer, timestamp)
		if cerr != nil {
			return MarginCalculation{}, cerr
		}
		if acc, err = acc.add(contribution); err != nil {
			return MarginCalculation{}, err
		}
	}
	for _, pos := range user.PerpPositions {
		contribution, cerr := calculatePerpContribution(pos, state, marginType, userCustomRatio, marginBuffer, timestamp)
		if cerr != nil {
			return MarginCalculation{}, cerr
		}
		if acc, err = acc.add(contribution); err != nil {
			return MarginCalculation{}, err
		}
	}

	return MarginCalculation{
		SpotAssetValue:          acc.SpotAssetValue,
		SpotLiabilityValue:      acc.SpotLiabilityValue,
		PerpPnL:                 acc.PerpPnL,
		PerpLiabilityValue:      acc.PerpLiabilityValue,
		TotalCollateral:         acc.TotalCollateral(),
		MarginRequirement:       acc.MarginRequirement(),
		FreeCollateral:          acc.FreeCollateral(),
		TotalCollateralBuffer:   acc.TotalCollateralBuffer,
		MarginRequirementBuffer: acc.MarginRequirementBuffer,
	}, nil
}
