// 文件: pkg/account/model.go
// 账户快照数据结构 (MySQL 持久化 + Redis 缓存)
//
// 【存储策略】
// - 主存储: MySQL (持久化)
// - 缓存: Redis (组装好的快照缓存，TTL 较短)
//
// 快照是"账本在某个时刻的投影"，保证金缓存本身不落库 ——
// 进程重启后用最新快照重新构造 margin.CachedMarginCalculation。

package account

import (
	"marginx.com/pkg/margin"
)

// =============================================================================
// GORM 模型
// =============================================================================

// AccountRow 账户主记录
type AccountRow struct {
	ID     uint  `gorm:"primaryKey;autoIncrement"`
	UserID int64 `gorm:"column:user_id;uniqueIndex"`

	// MaxMarginRatio 用户自定义保证金率 (万分比, 0 = 未设置)
	MaxMarginRatio int64 `gorm:"column:max_margin_ratio"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (AccountRow) TableName() string {
	return "margin_accounts"
}

// SpotBalanceRow 现货余额
//
// Balance > 0: 存款
// Balance < 0: 借款
type SpotBalanceRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      int64  `gorm:"column:user_id;index:idx_spot_user_market,unique"`
	MarketIndex uint16 `gorm:"column:market_index;index:idx_spot_user_market,unique"`

	Balance int64 `gorm:"column:balance"` // 1e8 精度

	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (SpotBalanceRow) TableName() string {
	return "spot_balances"
}

// PerpPositionRow 永续持仓
type PerpPositionRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      int64  `gorm:"column:user_id;index:idx_perp_user_market,unique"`
	MarketIndex uint16 `gorm:"column:market_index;index:idx_perp_user_market,unique"`

	BaseAmount       int64 `gorm:"column:base_amount"`       // 带符号, 1e8 精度
	EntryPrice       int64 `gorm:"column:entry_price"`       // 开仓均价
	UnsettledFunding int64 `gorm:"column:unsettled_funding"` // 未结算资金费

	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (PerpPositionRow) TableName() string {
	return "perp_positions"
}

// =============================================================================
// 快照
// =============================================================================

// Snapshot 组装好的账户快照 + 取出时刻
type Snapshot struct {
	User      margin.User `json:"user"`
	Timestamp int64       `json:"timestamp"` // Unix 毫秒
}

// assembleUser 由三张表的行拼出核心计算用的 User
func assembleUser(acct *AccountRow, spots []SpotBalanceRow, perps []PerpPositionRow) margin.User {
	user := margin.User{
		UserID:         acct.UserID,
		MaxMarginRatio: acct.MaxMarginRatio,
	}
	for _, row := range spots {
		user.SpotPositions = append(user.SpotPositions, margin.SpotPosition{
			MarketIndex: row.MarketIndex,
			Balance:     row.Balance,
		})
	}
	for _, row := range perps {
		user.PerpPositions = append(user.PerpPositions, margin.PerpPosition{
			MarketIndex:      row.MarketIndex,
			BaseAmount:       row.BaseAmount,
			EntryPrice:       row.EntryPrice,
			UnsettledFunding: row.UnsettledFunding,
		})
	}
	return user
}
