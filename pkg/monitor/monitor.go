// 文件: pkg/monitor/monitor.go
// 保证金监控引擎
//
// 职责:
// 1. 为每个在册账户维护一份增量保证金计算 (维持保证金口径)
// 2. 仓位变更事件 → 单仓位增量更新
// 3. 行情 tick → 只重算持有该市场的账户的对应仓位
// 4. 定期全量重建，兜底对账
//
// 设计思想:
// - 增量更新走热路径，全量重建只做一致性兜底
// - 风险快照写入 Copy-on-Write 索引，查询方无锁读
// - 等级越级时发 Kafka 事件，下游强平引擎消费

package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"marginx.com/pkg/account"
	"marginx.com/pkg/margin"
)

// =============================================================================
// 配置
// =============================================================================

// Config 监控引擎配置
type Config struct {
	RescanInterval time.Duration // 全量重建间隔
	MarginBuffer   int64         // 保证金缓冲 (万分比)，0 表示不加缓冲
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		RescanInterval: 5 * time.Second,
		MarginBuffer:   0,
	}
}

// =============================================================================
// Monitor 监控引擎
// =============================================================================

// trackedAccount 账户最近一次已知的仓位
//
// 增量计算只缓存每个仓位的贡献，不缓存仓位本身；
// 行情变化时重新定价需要原始仓位输入，所以这里留一份。
type trackedAccount struct {
	spot map[uint16]margin.SpotPosition
	perp map[uint16]margin.PerpPosition
}

// Monitor 保证金监控引擎
type Monitor struct {
	cfg    Config
	repo   account.SnapshotRepository
	oracle MarketSource
	sink   EventSink
	index  *RiskIndex

	// mu 保护 calcs/accounts/holders
	// 索引 index 自带无锁读，查询方不经过这把锁
	mu       sync.Mutex
	calcs    map[int64]*margin.CachedMarginCalculation
	accounts map[int64]*trackedAccount
	holders  map[margin.PositionKey]map[int64]struct{} // 市场 -> 持有账户

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// MarketSource 行情来源
//
// 由 market.OracleService 实现
type MarketSource interface {
	Snapshot() *margin.MarketState
}

// NewMonitor 创建监控引擎
func NewMonitor(cfg Config, repo account.SnapshotRepository, oracle MarketSource, sink EventSink) *Monitor {
	if sink == nil {
		sink = LogSink{}
	}
	return &Monitor{
		cfg:      cfg,
		repo:     repo,
		oracle:   oracle,
		sink:     sink,
		index:    NewRiskIndex(),
		calcs:    make(map[int64]*margin.CachedMarginCalculation),
		accounts: make(map[int64]*trackedAccount),
		holders:  make(map[margin.PositionKey]map[int64]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Index 风险索引 (无锁读)
func (m *Monitor) Index() *RiskIndex {
	return m.index
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动监控引擎
//
// 启动后先做一次全量重建，之后按 RescanInterval 周期兜底
func (m *Monitor) Start() {
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLoop()
	}()

	log.Printf("[Monitor] Started with rescan=%v, buffer=%dbps",
		m.cfg.RescanInterval, m.cfg.MarginBuffer)
}

// Stop 停止监控引擎
func (m *Monitor) Stop() {
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
	log.Println("[Monitor] Stopped")
}

func (m *Monitor) runLoop() {
	m.Rescan(context.Background())

	ticker := time.NewTicker(m.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Rescan(context.Background())
		}
	}
}

// =============================================================================
// 全量重建 (兜底)
// =============================================================================

// Rescan 全量重建所有账户的计算对象
//
// 步骤:
// 1. 从仓储拉全量账户 ID
// 2. 逐个加载快照，重建计算对象
// 3. 重建后的结果与增量维护的结果不一致时记录对账日志
// 4. 批量刷新风险索引，移除已销户的账户
func (m *Monitor) Rescan(ctx context.Context) {
	startTime := time.Now()

	userIDs, err := m.repo.ListUserIDs(ctx)
	if err != nil {
		log.Printf("[Monitor] Rescan failed to list users: %v", err)
		return
	}

	state := m.oracle.Snapshot()
	now := startTime.UnixMilli()

	rebuilt := 0
	drifted := 0
	var updates []AccountRisk

	m.mu.Lock()

	seen := make(map[int64]struct{}, len(userIDs))
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			m.mu.Unlock()
			return
		default:
		}
		seen[userID] = struct{}{}

		snap, err := m.repo.LoadSnapshot(ctx, userID)
		if err != nil {
			log.Printf("[Monitor] Rescan failed to load user %d: %v", userID, err)
			continue
		}

		calc, err := margin.FromUser(&snap.User, state, margin.Maintenance, m.cfg.MarginBuffer, now)
		if err != nil {
			log.Printf("[Monitor] Rescan failed to build calc for user %d: %v", userID, err)
			continue
		}

		if old, ok := m.calcs[userID]; ok {
			if old.GetFreeCollateral() != calc.GetFreeCollateral() {
				drifted++
				log.Printf("[Monitor] Reconcile drift: user=%d incremental=%d rebuilt=%d",
					userID, old.GetFreeCollateral(), calc.GetFreeCollateral())
			}
		}

		m.storeLocked(userID, calc, snap.User)
		updates = append(updates, m.riskOf(calc, now))
		rebuilt++
	}

	// 移除已不在仓储中的账户
	var removes []int64
	for userID := range m.calcs {
		if _, ok := seen[userID]; !ok {
			removes = append(removes, userID)
			m.dropLocked(userID)
		}
	}

	m.mu.Unlock()

	m.notifyTransitions(ctx, updates)
	m.index.BatchUpdate(updates, removes)

	log.Printf("[Monitor] Rescan completed: users=%d, rebuilt=%d, drifted=%d, removed=%d, elapsed=%v",
		len(userIDs), rebuilt, drifted, len(removes), time.Since(startTime))
}

// TrackUser 纳管单个账户 (加载快照并全量重建)
func (m *Monitor) TrackUser(ctx context.Context, userID int64) error {
	snap, err := m.repo.LoadSnapshot(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	calc, err := margin.FromUser(&snap.User, m.oracle.Snapshot(), margin.Maintenance, m.cfg.MarginBuffer, now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.storeLocked(userID, calc, snap.User)
	risk := m.riskOf(calc, now)
	m.mu.Unlock()

	m.notifyTransitions(ctx, []AccountRisk{risk})
	m.index.Set(risk)
	return nil
}

// Untrack 移除账户
func (m *Monitor) Untrack(userID int64) {
	m.mu.Lock()
	m.dropLocked(userID)
	m.mu.Unlock()
	m.index.Remove(userID)
}

// =============================================================================
// 增量更新 (热路径)
// =============================================================================

// OnPositionChanged 处理仓位变更事件
//
// 只重算变更的那一个仓位。未纳管的账户先走一次全量纳管。
func (m *Monitor) OnPositionChanged(ctx context.Context, ev PositionChangedEvent) error {
	m.mu.Lock()
	calc, ok := m.calcs[ev.UserID]
	if !ok {
		m.mu.Unlock()
		return m.TrackUser(ctx, ev.UserID)
	}

	state := m.oracle.Snapshot()
	acct := m.accounts[ev.UserID]

	var err error
	switch ev.Kind {
	case margin.KindSpot:
		pos := margin.SpotPosition{MarketIndex: ev.MarketIndex, Balance: ev.Balance}
		err = calc.UpdateSpotPosition(pos, state, ev.Timestamp)
		if err == nil {
			acct.spot[ev.MarketIndex] = pos
		}
	case margin.KindPerp:
		pos := margin.PerpPosition{
			MarketIndex:      ev.MarketIndex,
			BaseAmount:       ev.BaseAmount,
			EntryPrice:       ev.EntryPrice,
			UnsettledFunding: ev.UnsettledFunding,
		}
		err = calc.UpdatePerpPosition(pos, state, ev.Timestamp)
		if err == nil {
			acct.perp[ev.MarketIndex] = pos
		}
	default:
		err = fmt.Errorf("monitor: unknown position kind %d", ev.Kind)
	}
	if err != nil {
		m.mu.Unlock()
		log.Printf("[Monitor] Position update failed: user=%d kind=%d market=%d err=%v",
			ev.UserID, ev.Kind, ev.MarketIndex, err)
		return err
	}

	key := margin.PositionKey{Kind: ev.Kind, MarketIndex: ev.MarketIndex}
	m.addHolderLocked(key, ev.UserID)
	risk := m.riskOf(calc, ev.Timestamp)
	m.mu.Unlock()

	m.notifyTransitions(ctx, []AccountRisk{risk})
	m.index.Set(risk)
	return nil
}

// OnPriceUpdate 处理行情 tick
//
// 只重算持有该市场的账户，且每个账户只重算该市场的仓位。
// 与 market.OracleService 的更新回调对接。
func (m *Monitor) OnPriceUpdate(kind margin.PositionKind, marketIndex uint16, timestamp int64) {
	key := margin.PositionKey{Kind: kind, MarketIndex: marketIndex}
	state := m.oracle.Snapshot()

	m.mu.Lock()

	users := m.holders[key]
	updates := make([]AccountRisk, 0, len(users))

	for userID := range users {
		calc, ok := m.calcs[userID]
		if !ok {
			continue
		}
		acct := m.accounts[userID]

		var err error
		switch kind {
		case margin.KindSpot:
			err = calc.UpdateSpotPosition(acct.spot[marketIndex], state, timestamp)
		case margin.KindPerp:
			err = calc.UpdatePerpPosition(acct.perp[marketIndex], state, timestamp)
		}
		if err != nil {
			log.Printf("[Monitor] Reprice failed: user=%d kind=%d market=%d err=%v",
				userID, kind, marketIndex, err)
			continue
		}

		updates = append(updates, m.riskOf(calc, timestamp))
	}

	m.mu.Unlock()

	if len(updates) > 0 {
		m.notifyTransitions(context.Background(), updates)
		m.index.BatchUpdate(updates, nil)
	}
}

// =============================================================================
// 内部
// =============================================================================

// storeLocked 记录计算对象、仓位副本和持仓索引 (调用方持 mu)
func (m *Monitor) storeLocked(userID int64, calc *margin.CachedMarginCalculation, user margin.User) {
	m.dropLocked(userID)

	acct := &trackedAccount{
		spot: make(map[uint16]margin.SpotPosition, len(user.SpotPositions)),
		perp: make(map[uint16]margin.PerpPosition, len(user.PerpPositions)),
	}
	for _, pos := range user.SpotPositions {
		acct.spot[pos.MarketIndex] = pos
		m.addHolderLocked(margin.PositionKey{Kind: margin.KindSpot, MarketIndex: pos.MarketIndex}, userID)
	}
	for _, pos := range user.PerpPositions {
		acct.perp[pos.MarketIndex] = pos
		m.addHolderLocked(margin.PositionKey{Kind: margin.KindPerp, MarketIndex: pos.MarketIndex}, userID)
	}

	m.calcs[userID] = calc
	m.accounts[userID] = acct
}

// dropLocked 移除账户的全部内存状态 (调用方持 mu)
func (m *Monitor) dropLocked(userID int64) {
	acct, ok := m.accounts[userID]
	if ok {
		for idx := range acct.spot {
			m.removeHolderLocked(margin.PositionKey{Kind: margin.KindSpot, MarketIndex: idx}, userID)
		}
		for idx := range acct.perp {
			m.removeHolderLocked(margin.PositionKey{Kind: margin.KindPerp, MarketIndex: idx}, userID)
		}
	}
	delete(m.calcs, userID)
	delete(m.accounts, userID)
}

func (m *Monitor) addHolderLocked(key margin.PositionKey, userID int64) {
	set, ok := m.holders[key]
	if !ok {
		set = make(map[int64]struct{})
		m.holders[key] = set
	}
	set[userID] = struct{}{}
}

func (m *Monitor) removeHolderLocked(key margin.PositionKey, userID int64) {
	if set, ok := m.holders[key]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.holders, key)
		}
	}
}

// riskOf 从计算对象取风险快照
func (m *Monitor) riskOf(calc *margin.CachedMarginCalculation, timestamp int64) AccountRisk {
	snap := calc.Snapshot()
	ratio := riskRatioBps(snap)
	return AccountRisk{
		UserID:            calc.UserID(),
		Level:             classify(ratio),
		RiskRatioBps:      ratio,
		TotalCollateral:   snap.TotalCollateral,
		MarginRequirement: snap.MarginRequirement,
		FreeCollateral:    snap.FreeCollateral,
		UpdatedAt:         timestamp,
	}
}

// notifyTransitions 对等级发生变化的账户发事件
//
// 只在跨越 Warning 线时发，安全区内的波动不打扰下游。
// 旧等级从索引读取，调用方必须先 notify 再刷新索引。
func (m *Monitor) notifyTransitions(ctx context.Context, updates []AccountRisk) {
	for _, risk := range updates {
		prev, existed := m.index.Get(risk.UserID)
		if existed && prev.Level == risk.Level {
			continue
		}
		if risk.Level < RiskLevelWarning && (!existed || prev.Level < RiskLevelWarning) {
			continue
		}

		ev := MarginEvent{
			UserID:            risk.UserID,
			Level:             risk.Level,
			RiskRatioBps:      risk.RiskRatioBps,
			TotalCollateral:   risk.TotalCollateral,
			MarginRequirement: risk.MarginRequirement,
			FreeCollateral:    risk.FreeCollateral,
			Timestamp:         risk.UpdatedAt,
		}
		if err := m.sink.Publish(ctx, ev); err != nil {
			log.Printf("[Monitor] Publish event failed: user=%d err=%v", risk.UserID, err)
		}
	}
}
