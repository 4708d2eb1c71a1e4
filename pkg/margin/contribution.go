// 文件: pkg/margin/contribution.go
// 贡献模型 - 计算单条仓位对账户风险指标的贡献
//
// 纯函数，无副作用: (仓位, 市场状态, 保证金类型, 时间戳) → PositionContribution
// timestamp 只是透传记录，这里不做任何时间相关的计算。

package margin

// =============================================================================
// 现货贡献
// =============================================================================

// calculateSpotContribution 计算现货仓位贡献
//
// 存款: AssetValue   = balance × 价格 × 资产权重
// 借款: LiabilityValue = |balance| × 价格 × 负债权重
// 现货没有 PnL 概念，恒为 0。
//
// marginBuffer: 额外缓冲 (万分比)，在负债上按原始 token 价值加成，
// 用于强平前的提前预警线。0 表示不启用。
func calculateSpotContribution(
	pos SpotPosition,
	state *MarketState,
	marginType MarginRequirementType,
	marginBuffer int64,
	timestamp int64,
) (PositionContribution, error) {
	c := PositionContribution{
		Kind:        KindSpot,
		MarketIndex: pos.MarketIndex,
		MarginType:  marginType,
		LastUpdated: timestamp,
	}

	mkt, err := state.SpotMarket(pos.MarketIndex)
	if err != nil {
		return PositionContribution{}, err
	}

	// 已平仓: 零值贡献 (条目留在缓存里也不影响任何累加字段)
	if pos.Balance == 0 {
		return c, nil
	}

	if pos.Balance > 0 {
		// ===== 存款 → 抵押品 =====
		weight := mkt.AssetWeight(marginType)

		tokenValue, err := mulDiv(pos.Balance, mkt.OraclePrice, Precision)
		if err != nil {
			return PositionContribution{}, err
		}
		assetValue, err := mulDiv(tokenValue, weight, WeightPrecision)
		if err != nil {
			return PositionContribution{}, err
		}

		c.AssetValue = assetValue
		c.AppliedWeight = weight
		return c, nil
	}

	// ===== 借款 → 负债 =====
	weight := mkt.LiabilityWeight(marginType)

	tokenValue, err := mulDiv(-pos.Balance, mkt.OraclePrice, Precision)
	if err != nil {
		return PositionContribution{}, err
	}
	liabilityValue, err := mulDiv(tokenValue, weight, WeightPrecision)
	if err != nil {
		return PositionContribution{}, err
	}

	// 缓冲按未加权的 token 价值算，和权重无关
	liabilityBuffer := liabilityValue
	if marginBuffer > 0 {
		extra, err := mulDiv(tokenValue, marginBuffer, WeightPrecision)
		if err != nil {
			return PositionContribution{}, err
		}
		liabilityBuffer, err = checkedAdd(liabilityValue, extra)
		if err != nil {
			return PositionContribution{}, err
		}
	}

	c.LiabilityValue = liabilityValue
	c.LiabilityBuffer = liabilityBuffer
	c.AppliedWeight = weight
	return c, nil
}

// =============================================================================
// 永续贡献
// =============================================================================

// calculatePerpContribution 计算永续合约仓位贡献
//
// PnL            = base × (标记价 - 开仓价) + 未结算资金费
// LiabilityValue = |base| × 标记价 × 保证金率
// AssetValue     = 0 —— 合约敞口从不直接产生抵押品，
//                  只通过 PnL 影响总抵押 (和现货资产分开累加)
//
// userCustomRatio: 用户自定义保证金率，Initial 模式下对市场保证金率取 max。
func calculatePerpContribution(
	pos PerpPosition,
	state *MarketState,
	marginType MarginRequirementType,
	userCustomRatio int64,
	marginBuffer int64,
	timestamp int64,
) (PositionContribution, error) {
	c := PositionContribution{
		Kind:        KindPerp,
		MarketIndex: pos.MarketIndex,
		MarginType:  marginType,
		LastUpdated: timestamp,
	}

	mkt, err := state.PerpMarket(pos.MarketIndex)
	if err != nil {
		return PositionContribution{}, err
	}

	// 无持仓且无未结算资金费: 零值贡献
	if pos.BaseAmount == 0 && pos.UnsettledFunding == 0 {
		return c, nil
	}

	// ===== 未实现盈亏 =====
	priceDiff, err := checkedSub(mkt.OraclePrice, pos.EntryPrice)
	if err != nil {
		return PositionContribution{}, err
	}
	pnl, err := mulDiv(pos.BaseAmount, priceDiff, Precision)
	if err != nil {
		return PositionContribution{}, err
	}
	pnl, err = checkedAdd(pnl, pos.UnsettledFunding)
	if err != nil {
		return PositionContribution{}, err
	}

	// ===== 保证金需求 =====
	ratio := mkt.MarginRatio(marginType)
	if marginType == Initial {
		ratio = maxI64(ratio, userCustomRatio)
	}

	absBase, err := absI64(pos.BaseAmount)
	if err != nil {
		return PositionContribution{}, err
	}
	notional, err := mulDiv(absBase, mkt.OraclePrice, Precision)
	if err != nil {
		return PositionContribution{}, err
	}
	liabilityValue, err := mulDiv(notional, ratio, WeightPrecision)
	if err != nil {
		return PositionContribution{}, err
	}

	// ===== 缓冲 =====
	liabilityBuffer := liabilityValue
	var collateralBuffer int64
	if marginBuffer > 0 {
		// 负债侧: 按名义价值加成
		extra, err := mulDiv(notional, marginBuffer, WeightPrecision)
		if err != nil {
			return PositionContribution{}, err
		}
		liabilityBuffer, err = checkedAdd(liabilityValue, extra)
		if err != nil {
			return PositionContribution{}, err
		}

		// 抵押侧: 只对负 PnL 追加折减 (亏损在缓冲视角下被放大)
		if pnl < 0 {
			collateralBuffer, err = mulDiv(pnl, marginBuffer, WeightPrecision)
			if err != nil {
				return PositionContribution{}, err
			}
		}
	}

	c.PnL = pnl
	c.LiabilityValue = liabilityValue
	c.LiabilityBuffer = liabilityBuffer
	c.CollateralBuffer = collateralBuffer
	c.AppliedWeight = ratio
	return c, nil
}
