// 文件: pkg/market/oracle.go
// 预言机价格服务 - 管理各市场的参数和当前价格
//
// 【职责】
// 1. 注册现货/永续市场的静态参数 (权重表、保证金率表)
// 2. 接收外部推送的预言机价格
// 3. 按需导出不可变的 margin.MarketState 快照交给核心计算
//
// 【价格来源】
// 实际生产中价格来自多交易所加权指数或链上预言机，
// 这里只负责存储和分发，获取由 Feed (NATS) 或调用方直接推送。

package market

import (
	"fmt"
	"sync"
	"time"

	"marginx.com/pkg/margin"
)

// OracleService 预言机价格服务
//
// 核心 (margin 包) 是单一所有者、内部无锁的，
// 并发控制收拢在这一层: RWMutex 保护市场表，Snapshot 返回深拷贝。
type OracleService struct {
	mu   sync.RWMutex
	spot map[uint16]*spotEntry
	perp map[uint16]*perpEntry

	// 价格更新回调 (用于通知监控引擎做增量更新)
	onUpdate func(kind margin.PositionKind, marketIndex uint16, timestamp int64)
}

type spotEntry struct {
	market    margin.SpotMarket
	updatedAt int64
}

type perpEntry struct {
	market    margin.PerpMarket
	updatedAt int64
}

// NewOracleService 创建预言机服务
func NewOracleService() *OracleService {
	return &OracleService{
		spot: make(map[uint16]*spotEntry),
		perp: make(map[uint16]*perpEntry),
	}
}

// SetOnUpdate 设置价格更新回调
func (s *OracleService) SetOnUpdate(fn func(kind margin.PositionKind, marketIndex uint16, timestamp int64)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// =============================================================================
// 市场注册
// =============================================================================

// RegisterSpotMarket 注册现货市场 (参数 + 初始价格)
func (s *OracleService) RegisterSpotMarket(m margin.SpotMarket) {
	s.mu.Lock()
	s.spot[m.MarketIndex] = &spotEntry{market: m, updatedAt: time.Now().UnixMilli()}
	s.mu.Unlock()
}

// RegisterPerpMarket 注册永续市场
func (s *OracleService) RegisterPerpMarket(m margin.PerpMarket) {
	s.mu.Lock()
	s.perp[m.MarketIndex] = &perpEntry{market: m, updatedAt: time.Now().UnixMilli()}
	s.mu.Unlock()
}

// =============================================================================
// 价格更新
// =============================================================================

// UpdateSpotOracle 更新现货预言机价格
// 未注册的市场直接拒绝，避免幽灵价格进入快照
func (s *OracleService) UpdateSpotOracle(marketIndex uint16, price int64, timestamp int64) error {
	if price <= 0 {
		return fmt.Errorf("market: invalid spot oracle price %d for market %d", price, marketIndex)
	}

	s.mu.Lock()
	entry, ok := s.spot[marketIndex]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("market: spot market %d not registered", marketIndex)
	}
	entry.market.OraclePrice = price
	entry.updatedAt = timestamp
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(margin.KindSpot, marketIndex, timestamp)
	}
	return nil
}

// UpdatePerpOracle 更新永续预言机价格
func (s *OracleService) UpdatePerpOracle(marketIndex uint16, price int64, timestamp int64) error {
	if price <= 0 {
		return fmt.Errorf("market: invalid perp oracle price %d for market %d", price, marketIndex)
	}

	s.mu.Lock()
	entry, ok := s.perp[marketIndex]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("market: perp market %d not registered", marketIndex)
	}
	entry.market.OraclePrice = price
	entry.updatedAt = timestamp
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(margin.KindPerp, marketIndex, timestamp)
	}
	return nil
}

// =============================================================================
// 快照导出
// =============================================================================

// Snapshot 导出当前市场状态的深拷贝
//
// 返回值是不可变快照: 之后的价格更新不会影响已导出的快照，
// 核心计算拿到的输入在一次调用期间保证稳定。
func (s *OracleService) Snapshot() *margin.MarketState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := margin.NewMarketState()
	for _, entry := range s.spot {
		state.SetSpotMarket(entry.market)
	}
	for _, entry := range s.perp {
		state.SetPerpMarket(entry.market)
	}
	return state
}

// SpotPrice 查询现货价格 (0 = 未注册)
func (s *OracleService) SpotPrice(marketIndex uint16) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.spot[marketIndex]; ok {
		return entry.market.OraclePrice
	}
	return 0
}

// PerpPrice 查询永续价格 (0 = 未注册)
func (s *OracleService) PerpPrice(marketIndex uint16) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.perp[marketIndex]; ok {
		return entry.market.OraclePrice
	}
	return 0
}

// LastUpdated 市场价格的最后更新时间 (毫秒), 未注册返回 0
func (s *OracleService) LastUpdated(kind margin.PositionKind, marketIndex uint16) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case margin.KindSpot:
		if entry, ok := s.spot[marketIndex]; ok {
			return entry.updatedAt
		}
	case margin.KindPerp:
		if entry, ok := s.perp[marketIndex]; ok {
			return entry.updatedAt
		}
	}
	return 0
}
