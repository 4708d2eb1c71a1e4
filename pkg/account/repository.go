// 文件: pkg/account/repository.go
// 账户快照存储层 (MySQL)

package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrAccountNotFound 账户不存在
var ErrAccountNotFound = errors.New("account: not found")

// =============================================================================
// 接口定义
// =============================================================================

// SnapshotRepository 账户快照存储接口
//
// 业务层 (监控引擎) 只依赖接口，方便换实现和叠缓存层。
type SnapshotRepository interface {
	// LoadSnapshot 加载一个账户的完整快照 (账户 + 现货余额 + 永续持仓)
	LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error)

	// ListUserIDs 列出所有有持仓的账户
	ListUserIDs(ctx context.Context) ([]int64, error)

	// SaveSpotBalance 写入现货余额 (upsert)
	SaveSpotBalance(ctx context.Context, userID int64, marketIndex uint16, balance int64) error

	// SavePerpPosition 写入永续持仓 (upsert)
	SavePerpPosition(ctx context.Context, userID int64, row *PerpPositionRow) error
}

// =============================================================================
// MySQL 实现
// =============================================================================

type MySQLSnapshotRepository struct {
	db *gorm.DB
}

func NewMySQLSnapshotRepository(db *gorm.DB) *MySQLSnapshotRepository {
	return &MySQLSnapshotRepository{db: db}
}

// AutoMigrate 建表
func (r *MySQLSnapshotRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&AccountRow{}, &SpotBalanceRow{}, &PerpPositionRow{})
}

// LoadSnapshot 加载完整快照
//
// 三张表各查一次，时间戳取查询开始时刻。
// 快照内部的一致性 (三张表之间) 由上层写入路径保证，这里不加事务 ——
// 监控引擎的全量对账回路会修正偶发的读偏差。
func (r *MySQLSnapshotRepository) LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	ts := time.Now().UnixMilli()

	var acct AccountRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
		}
		return nil, err
	}

	var spots []SpotBalanceRow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&spots).Error; err != nil {
		return nil, err
	}

	var perps []PerpPositionRow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&perps).Error; err != nil {
		return nil, err
	}

	return &Snapshot{
		User:      assembleUser(&acct, spots, perps),
		Timestamp: ts,
	}, nil
}

// ListUserIDs 列出所有账户
func (r *MySQLSnapshotRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&AccountRow{}).
		Pluck("user_id", &ids).Error
	return ids, err
}

// SaveSpotBalance 写入现货余额 (upsert)
func (r *MySQLSnapshotRepository) SaveSpotBalance(ctx context.Context, userID int64, marketIndex uint16, balance int64) error {
	row := SpotBalanceRow{
		UserID:      userID,
		MarketIndex: marketIndex,
		Balance:     balance,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND market_index = ?", userID, marketIndex).
		Assign(map[string]any{"balance": row.Balance, "updated_at": row.UpdatedAt}).
		FirstOrCreate(&SpotBalanceRow{}, SpotBalanceRow{UserID: userID, MarketIndex: marketIndex}).Error
}

// SavePerpPosition 写入永续持仓 (upsert)
func (r *MySQLSnapshotRepository) SavePerpPosition(ctx context.Context, userID int64, row *PerpPositionRow) error {
	row.UserID = userID
	row.UpdatedAt = time.Now().UnixMilli()
	return r.db.WithContext(ctx).
		Where("user_id = ? AND market_index = ?", userID, row.MarketIndex).
		Assign(map[string]any{
			"base_amount":       row.BaseAmount,
			"entry_price":       row.EntryPrice,
			"unsettled_funding": row.UnsettledFunding,
			"updated_at":        row.UpdatedAt,
		}).
		FirstOrCreate(&PerpPositionRow{}, PerpPositionRow{UserID: userID, MarketIndex: row.MarketIndex}).Error
}
