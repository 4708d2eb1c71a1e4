// 文件: pkg/account/cache_repo.go
// 账户快照 Redis 缓存层
//
// 【设计模式】装饰器模式
// - 包装底层 SnapshotRepository，透明添加缓存能力
// - 调用方只看到 SnapshotRepository 接口
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)
// - TTL 很短: 快照的价值就在新鲜度，过期的快照会把增量计算引向错误的基线

package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ SnapshotRepository = (*CachedSnapshotRepository)(nil)

const (
	// 快照缓存: account:snapshot:{userID}
	snapshotKeyPattern = "account:snapshot:%d"

	snapshotCacheTTL = 5 * time.Second
)

func snapshotKey(userID int64) string {
	return fmt.Sprintf(snapshotKeyPattern, userID)
}

// CachedSnapshotRepository Redis 缓存装饰器
type CachedSnapshotRepository struct {
	repo  SnapshotRepository
	redis *redis.Client
}

func NewCachedSnapshotRepository(repo SnapshotRepository, rds *redis.Client) *CachedSnapshotRepository {
	return &CachedSnapshotRepository{repo: repo, redis: rds}
}

// LoadSnapshot 加载快照 (带缓存)
func (r *CachedSnapshotRepository) LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	key := snapshotKey(userID)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil // Cache hit
		}
	}

	// 2. Cache miss, 查底层
	snap, err := r.repo.LoadSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (异步，不阻塞主流程)
	go r.setCache(context.Background(), key, snap)

	return snap, nil
}

// ListUserIDs 列表不缓存 (调用频率低，直接透传)
func (r *CachedSnapshotRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	return r.repo.ListUserIDs(ctx)
}

// SaveSpotBalance 写 DB 成功后失效缓存
func (r *CachedSnapshotRepository) SaveSpotBalance(ctx context.Context, userID int64, marketIndex uint16, balance int64) error {
	if err := r.repo.SaveSpotBalance(ctx, userID, marketIndex, balance); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// SavePerpPosition 写 DB 成功后失效缓存
func (r *CachedSnapshotRepository) SavePerpPosition(ctx context.Context, userID int64, row *PerpPositionRow) error {
	if err := r.repo.SavePerpPosition(ctx, userID, row); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *CachedSnapshotRepository) setCache(ctx context.Context, key string, snap *Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, data, snapshotCacheTTL).Err(); err != nil {
		log.Printf("[Account] cache set failed: %v", err)
	}
}

func (r *CachedSnapshotRepository) invalidate(ctx context.Context, userID int64) {
	if err := r.redis.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		log.Printf("[Account] cache invalidate failed for user %d: %v", userID, err)
	}
}
