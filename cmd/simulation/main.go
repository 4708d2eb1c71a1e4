// 文件: cmd/simulation/main.go
// 全链路仿真: 行情随机游走 + 仓位事件 + 保证金监控
//
// 验证两件事:
// 1. 增量计算与全量重算逐位一致 (每个 tick 都对账)
// 2. 行情暴跌时监控引擎能把账户推进强平队列

package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marginx.com/pkg/account"
	"marginx.com/pkg/margin"
	"marginx.com/pkg/market"
	"marginx.com/pkg/monitor"
)

// =============================================================================
// Mock 组件实现
// =============================================================================

// MockSnapshotRepository 内存版账户仓储
type MockSnapshotRepository struct {
	mu    sync.RWMutex
	users map[int64]margin.User
}

func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{users: make(map[int64]margin.User)}
}

func (r *MockSnapshotRepository) LoadSnapshot(ctx context.Context, userID int64) (*account.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	clone := margin.User{UserID: user.UserID, MaxMarginRatio: user.MaxMarginRatio}
	clone.SpotPositions = append(clone.SpotPositions, user.SpotPositions...)
	clone.PerpPositions = append(clone.PerpPositions, user.PerpPositions...)
	return &account.Snapshot{User: clone, Timestamp: time.Now().UnixMilli()}, nil
}

func (r *MockSnapshotRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *MockSnapshotRepository) SaveSpotBalance(ctx context.Context, userID int64, marketIndex uint16, balance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := r.users[userID]
	user.UserID = userID
	for i, pos := range user.SpotPositions {
		if pos.MarketIndex == marketIndex {
			user.SpotPositions[i].Balance = balance
			r.users[userID] = user
			return nil
		}
	}
	user.SpotPositions = append(user.SpotPositions, margin.SpotPosition{MarketIndex: marketIndex, Balance: balance})
	r.users[userID] = user
	return nil
}

func (r *MockSnapshotRepository) SavePerpPosition(ctx context.Context, userID int64, row *account.PerpPositionRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := r.users[userID]
	user.UserID = userID
	pos := margin.PerpPosition{
		MarketIndex:      row.MarketIndex,
		BaseAmount:       row.BaseAmount,
		EntryPrice:       row.EntryPrice,
		UnsettledFunding: row.UnsettledFunding,
	}
	for i, p := range user.PerpPositions {
		if p.MarketIndex == row.MarketIndex {
			user.PerpPositions[i] = pos
			r.users[userID] = user
			return nil
		}
	}
	user.PerpPositions = append(user.PerpPositions, pos)
	r.users[userID] = user
	return nil
}

var _ account.SnapshotRepository = (*MockSnapshotRepository)(nil)

// =============================================================================
// 市场常量
// =============================================================================

const (
	usdcSpotIndex = uint16(0)
	btcPerpIndex  = uint16(0)

	startPrice = 50_000 * margin.Precision
	crashPrice = 40_000 * margin.Precision
)

// =============================================================================
// 主程序
// =============================================================================

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("🚀 Starting Margin Monitor Simulation...")

	// 1. 初始化 行情服务 (Oracle Service)
	// -------------------------------------------------------------------------
	oracle := market.NewOracleService()
	oracle.RegisterSpotMarket(margin.SpotMarket{
		MarketIndex:                usdcSpotIndex,
		OraclePrice:                margin.Precision, // USDC = 1.0
		InitialAssetWeight:         10000,
		MaintenanceAssetWeight:     10000,
		InitialLiabilityWeight:     10000,
		MaintenanceLiabilityWeight: 10000,
	})
	oracle.RegisterPerpMarket(margin.PerpMarket{
		MarketIndex:            btcPerpIndex,
		OraclePrice:            startPrice,
		MarginRatioInitial:     1000, // 10x 杠杆
		MarginRatioMaintenance: 500,
	})
	log.Println("✅ Oracle Service Ready (USDC spot + BTC perp)")

	// 2. 初始化 账户仓储
	// -------------------------------------------------------------------------
	repo := NewMockSnapshotRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2.1 高风险用户: 5000 USDC 保证金，10 BTC 多仓 (名义 50 万)
	highRiskUser := int64(888)
	repo.SaveSpotBalance(ctx, highRiskUser, usdcSpotIndex, 5000*margin.Precision)
	repo.SavePerpPosition(ctx, highRiskUser, &account.PerpPositionRow{
		MarketIndex: btcPerpIndex,
		BaseAmount:  10 * margin.Precision,
		EntryPrice:  startPrice,
	})

	// 2.2 一批普通用户: 随机余额 + 小仓位
	for userID := int64(1); userID <= 50; userID++ {
		repo.SaveSpotBalance(ctx, userID, usdcSpotIndex, (10_000+rand.Int63n(90_000))*margin.Precision)
		repo.SavePerpPosition(ctx, userID, &account.PerpPositionRow{
			MarketIndex: btcPerpIndex,
			BaseAmount:  (rand.Int63n(200) - 100) * margin.Precision / 100, // -1 ~ +1 BTC
			EntryPrice:  startPrice,
		})
	}

	// 3. 初始化 监控引擎 (Monitor)
	// -------------------------------------------------------------------------
	cfg := monitor.DefaultConfig()
	cfg.RescanInterval = 2 * time.Second

	// Kafka 不在仿真范围内，事件走日志出口
	mon := monitor.NewMonitor(cfg, repo, oracle, monitor.LogSink{})
	oracle.SetOnUpdate(mon.OnPriceUpdate)

	mon.Start()
	defer mon.Stop()
	log.Println("✅ Margin Monitor Started")

	// 4. 对账器: 独立维护一份增量计算，逐 tick 与全量重算比对
	// -------------------------------------------------------------------------
	verifySnap, err := repo.LoadSnapshot(ctx, highRiskUser)
	if err != nil {
		log.Fatalf("Failed to load verify user: %v", err)
	}
	verifyCalc, err := margin.FromUser(&verifySnap.User, oracle.Snapshot(), margin.Maintenance, 0, time.Now().UnixMilli())
	if err != nil {
		log.Fatalf("Failed to build verify calc: %v", err)
	}
	verifyPerp := verifySnap.User.PerpPositions[0]

	// 5. 行情模拟器: 随机游走，3 秒后强制暴跌
	// -------------------------------------------------------------------------
	go func() {
		price := int64(startPrice)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		startTime := time.Now()
		crashed := false

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !crashed {
					price += (rand.Int63n(100) - 50) * margin.Precision
					if time.Since(startTime) > 3*time.Second {
						price = crashPrice
						crashed = true
						log.Printf("[Market] 📉 FORCED CRASH! BTC dropped to %d", price/margin.Precision)
					}
				} else {
					price = crashPrice + (rand.Int63n(20)-10)*margin.Precision
				}

				ts := time.Now().UnixMilli()
				if err := oracle.UpdatePerpOracle(btcPerpIndex, price, ts); err != nil {
					log.Printf("[Market] Price update failed: %v", err)
					continue
				}

				// 逐位对账: 增量 vs 全量
				state := oracle.Snapshot()
				if err := verifyCalc.UpdatePerpPosition(verifyPerp, state, ts); err != nil {
					log.Printf("[Verify] Incremental update failed: %v", err)
					continue
				}
				full, err := margin.CalculateMarginRequirement(&verifySnap.User, state, margin.Maintenance, 0, ts)
				if err != nil {
					log.Printf("[Verify] Full recompute failed: %v", err)
					continue
				}
				if verifyCalc.GetFreeCollateral() != full.FreeCollateral ||
					verifyCalc.GetTotalCollateral() != full.TotalCollateral ||
					verifyCalc.GetMarginRequirement() != full.MarginRequirement {
					log.Fatalf("[Verify] ❌ MISMATCH: incremental free=%d full free=%d",
						verifyCalc.GetFreeCollateral(), full.FreeCollateral)
				}
			}
		}
	}()

	// 6. 风险看板: 每秒打印等级分布和强平队列
	// -------------------------------------------------------------------------
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts := map[monitor.RiskLevel]int{}
				for _, risk := range mon.Index().GetAll() {
					counts[risk.Level]++
				}
				log.Printf("[Board] 📊 safe=%d warning=%d danger=%d liquidatable=%d btc=%d",
					counts[monitor.RiskLevelSafe], counts[monitor.RiskLevelWarning],
					counts[monitor.RiskLevelDanger], counts[monitor.RiskLevelLiquidatable],
					oracle.PerpPrice(btcPerpIndex)/margin.Precision)

				for _, risk := range mon.Index().GetAtOrAbove(monitor.RiskLevelLiquidatable) {
					log.Printf("[Board] ⚡️ LIQUIDATABLE: user=%d free=%d ratio=%dbps",
						risk.UserID, risk.FreeCollateral/margin.Precision, risk.RiskRatioBps)
				}
			}
		}
	}()

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutting down...")
}
