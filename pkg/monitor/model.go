// 文件: pkg/monitor/model.go
// 保证金监控数据结构

package monitor

import (
	"marginx.com/pkg/margin"
)

// =============================================================================
// 风险等级
// =============================================================================

// RiskLevel 账户风险等级
//
// 按占用率划分: 占用率 = 保证金需求 / 总抵押 (万分比)
type RiskLevel int8

const (
	RiskLevelSafe         RiskLevel = iota // 安全 (< 70%)
	RiskLevelWarning                       // 预警 (70% - 90%)
	RiskLevelDanger                        // 危险 (90% - 100%)
	RiskLevelLiquidatable                  // 可强平 (>= 100%, 即 free collateral < 0)
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelSafe:
		return "SAFE"
	case RiskLevelWarning:
		return "WARNING"
	case RiskLevelDanger:
		return "DANGER"
	case RiskLevelLiquidatable:
		return "LIQUIDATABLE"
	}
	return "UNKNOWN"
}

// 风险阈值 (万分比)
const (
	WarningThresholdBps = 7000  // 70% 触发预警
	DangerThresholdBps  = 9000  // 90% 触发危险
	LiquidateBps        = 10000 // 100% 可强平
)

// classify 从占用率推导风险等级
func classify(ratioBps int64) RiskLevel {
	switch {
	case ratioBps >= LiquidateBps:
		return RiskLevelLiquidatable
	case ratioBps >= DangerThresholdBps:
		return RiskLevelDanger
	case ratioBps >= WarningThresholdBps:
		return RiskLevelWarning
	default:
		return RiskLevelSafe
	}
}

// riskRatioBps 占用率 (万分比)
//
// 总抵押 <= 0 且还有保证金需求: 穿仓，返回超过可强平线的哨兵值。
// req*10000 可能溢出 int64 时退化为先除后乘，监控只需万分位粒度。
func riskRatioBps(calc margin.MarginCalculation) int64 {
	if calc.MarginRequirement == 0 {
		return 0
	}
	if calc.TotalCollateral <= 0 {
		return LiquidateBps + 1
	}
	req := calc.MarginRequirement
	col := calc.TotalCollateral
	if req > (1<<62)/margin.WeightPrecision {
		return req / (col/margin.WeightPrecision + 1)
	}
	return req * margin.WeightPrecision / col
}

// =============================================================================
// 账户风险快照 (风险索引的存储单元)
// =============================================================================

// AccountRisk 单个账户的风险快照
type AccountRisk struct {
	UserID int64
	Level  RiskLevel

	RiskRatioBps      int64 // 占用率 (万分比)
	TotalCollateral   int64
	MarginRequirement int64
	FreeCollateral    int64

	UpdatedAt int64 // Unix 毫秒
}

// =============================================================================
// 事件
// =============================================================================

// PositionChangedEvent 仓位变更事件 (成交/借还触发，经 NATS 推送)
//
// 现货变更填 Balance，永续变更填 BaseAmount/EntryPrice/UnsettledFunding。
type PositionChangedEvent struct {
	UserID      int64               `json:"user_id"`
	Kind        margin.PositionKind `json:"kind"`
	MarketIndex uint16              `json:"market_index"`

	Balance          int64 `json:"balance,omitempty"`
	BaseAmount       int64 `json:"base_amount,omitempty"`
	EntryPrice       int64 `json:"entry_price,omitempty"`
	UnsettledFunding int64 `json:"unsettled_funding,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// SubjectPositionChanged 仓位变更事件的 NATS 主题
const SubjectPositionChanged = "account.position.changed"

// MarginEvent 保证金事件 (发 Kafka，下游是强平引擎/通知服务)
type MarginEvent struct {
	EventID int64     `json:"event_id"` // 雪花 ID
	UserID  int64     `json:"user_id"`
	Level   RiskLevel `json:"level"`

	RiskRatioBps      int64 `json:"risk_ratio_bps"`
	TotalCollateral   int64 `json:"total_collateral"`
	MarginRequirement int64 `json:"margin_requirement"`
	FreeCollateral    int64 `json:"free_collateral"`

	Timestamp int64 `json:"timestamp"`
}
