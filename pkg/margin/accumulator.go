// 文件: pkg/margin/accumulator.go
// 聚合累加器 - 六个运行中的标量，靠增量 delta 维护而不是每次全量求和

package margin

// Accumulator 聚合累加器
//
// 【不变量】
// 在每个可观察的时点 (构造完成后、每次 update 返回后)，
// 四个基础标量必须等于当前缓存里所有贡献对应字段的总和。
// 违反这条不会崩溃，只会静默算错 —— 所以缓存和累加器必须一起原子更新。
//
// 值类型: applyDelta 返回新的 Accumulator，调用方确认无误后整体替换，
// 这样失败的更新不会留下改了一半的状态。
type Accumulator struct {
	SpotAssetValue     int64 // 现货资产价值 (加权后)
	SpotLiabilityValue int64 // 现货负债价值 (加权后)
	PerpPnL            int64 // 永续未实现盈亏 (可为负)
	PerpLiabilityValue int64 // 永续保证金需求

	// 缓冲标量 (marginBuffer > 0 时才非零)
	TotalCollateralBuffer   int64 // <= 0, 负 PnL 的额外折减
	MarginRequirementBuffer int64 // 负债 + 缓冲加成
}

// applyDelta 减去旧贡献、加上新贡献，返回新的累加器
//
// old == nil 表示该仓位首次进入缓存 (构造期间、或构造后新开的仓)。
// 任何一步越界都返回 ErrOverflow，原累加器不动。
func (a Accumulator) applyDelta(old *PositionContribution, fresh PositionContribution) (Accumulator, error) {
	out := a
	var err error

	if old != nil {
		if out, err = out.remove(*old); err != nil {
			return Accumulator{}, err
		}
	}
	if out, err = out.add(fresh); err != nil {
		return Accumulator{}, err
	}
	return out, nil
}

// add 加上一条贡献
func (a Accumulator) add(c PositionContribution) (Accumulator, error) {
	return a.fold(c, checkedAdd)
}

// remove 减去一条贡献
func (a Accumulator) remove(c PositionContribution) (Accumulator, error) {
	return a.fold(c, checkedSub)
}

// fold 按仓位类型把贡献的各字段路由到对应标量
func (a Accumulator) fold(c PositionContribution, op func(int64, int64) (int64, error)) (Accumulator, error) {
	out := a
	var err error

	switch c.Kind {
	case KindSpot:
		if out.SpotAssetValue, err = op(out.SpotAssetValue, c.AssetValue); err != nil {
			return Accumulator{}, err
		}
		if out.SpotLiabilityValue, err = op(out.SpotLiabilityValue, c.LiabilityValue); err != nil {
			return Accumulator{}, err
		}
	case KindPerp:
		if out.PerpPnL, err = op(out.PerpPnL, c.PnL); err != nil {
			return Accumulator{}, err
		}
		if out.PerpLiabilityValue, err = op(out.PerpLiabilityValue, c.LiabilityValue); err != nil {
			return Accumulator{}, err
		}
	}

	if out.TotalCollateralBuffer, err = op(out.TotalCollateralBuffer, c.CollateralBuffer); err != nil {
		return Accumulator{}, err
	}
	if out.MarginRequirementBuffer, err = op(out.MarginRequirementBuffer, c.LiabilityBuffer); err != nil {
		return Accumulator{}, err
	}
	return out, nil
}

// =============================================================================
// 派生指标 (按需计算，不存储)
// =============================================================================

// TotalCollateral 总抵押 = 现货资产 + 永续 PnL (PnL 为负会削减抵押)
func (a Accumulator) TotalCollateral() int64 {
	return a.SpotAssetValue + a.PerpPnL
}

// MarginRequirement 保证金需求 = 现货负债 + 永续负债
func (a Accumulator) MarginRequirement() int64 {
	return a.SpotLiabilityValue + a.PerpLiabilityValue
}

// FreeCollateral 可用抵押 = 总抵押 - 保证金需求 (负数 = 保证金不足)
func (a Accumulator) FreeCollateral() int64 {
	return a.TotalCollateral() - a.MarginRequirement()
}
