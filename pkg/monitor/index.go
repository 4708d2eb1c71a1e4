// 文件: pkg/monitor/index.go
// 风险索引 (Copy-on-Write)

package monitor

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// RiskIndex - 账户风险索引 (Copy-on-Write Map)
// =============================================================================

// RiskIndex 账户风险快照索引
//
// 核心特性:
// 1. 读操作完全无锁 (Lock-Free Read)
// 2. 写操作加锁，但不阻塞读操作
//
// 工作原理:
// - 内部维护一个指向 Map 的原子指针
// - 读取时，原子加载指针，直接读 Map 内容
// - 写入时，复制一份旧 Map，在副本上修改，原子替换指针
// - 旧 Map 在没有读者引用后，由 GC 回收
//
// 适用场景:
// - 查询方（API/强平引擎）每秒上千次读，监控引擎每个行情 tick 写一批
// - 账户数量通常几百到几万，整表复制的开销可以接受
type RiskIndex struct {
	// data: 原子指针，指向当前的 userID -> AccountRisk 映射
	//
	// 使用 atomic.Pointer 而非 atomic.Value:
	// atomic.Pointer 是泛型 (Go 1.19+)，省掉类型断言
	data atomic.Pointer[map[int64]AccountRisk]

	// writeMu: 只保护写操作之间的互斥，不影响读操作
	writeMu sync.Mutex
}

// NewRiskIndex 创建新的风险索引
func NewRiskIndex() *RiskIndex {
	idx := &RiskIndex{}
	emptyMap := make(map[int64]AccountRisk)
	idx.data.Store(&emptyMap)
	return idx
}

// =============================================================================
// 读操作 (无锁!)
// =============================================================================

// Get 获取指定账户的风险快照
//
// 读取的是调用时的快照，即使同时有写操作也不受影响
func (idx *RiskIndex) Get(userID int64) (AccountRisk, bool) {
	currentMap := idx.data.Load()
	risk, ok := (*currentMap)[userID]
	return risk, ok
}

// GetAll 获取所有账户的风险快照
func (idx *RiskIndex) GetAll() []AccountRisk {
	currentMap := idx.data.Load()
	result := make([]AccountRisk, 0, len(*currentMap))
	for _, v := range *currentMap {
		result = append(result, v)
	}
	return result
}

// GetAtOrAbove 获取达到指定风险等级的账户
//
// 强平引擎用 GetAtOrAbove(RiskLevelLiquidatable) 拉取待强平队列
func (idx *RiskIndex) GetAtOrAbove(level RiskLevel) []AccountRisk {
	currentMap := idx.data.Load()
	var result []AccountRisk
	for _, v := range *currentMap {
		if v.Level >= level {
			result = append(result, v)
		}
	}
	return result
}

// Len 当前索引中的账户数量
func (idx *RiskIndex) Len() int {
	currentMap := idx.data.Load()
	return len(*currentMap)
}

// Contains 检查账户是否在索引中
func (idx *RiskIndex) Contains(userID int64) bool {
	currentMap := idx.data.Load()
	_, ok := (*currentMap)[userID]
	return ok
}

// =============================================================================
// 写操作
// =============================================================================

// BatchUpdate 批量更新账户风险快照
//
// 工作流程:
//  1. 加写锁，防止多个写者同时复制、同时替换
//  2. 深拷贝当前 Map
//  3. 在副本上应用删除和更新 (先删后更，避免删掉新增的数据)
//  4. 原子替换指针
//
// 原子替换意味着读者要么看到旧数据，要么看到新数据，不会看到中间状态
func (idx *RiskIndex) BatchUpdate(updates []AccountRisk, removes []int64) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	oldMap := idx.data.Load()
	newMap := make(map[int64]AccountRisk, len(*oldMap)+len(updates))
	for k, v := range *oldMap {
		newMap[k] = v
	}

	for _, userID := range removes {
		delete(newMap, userID)
	}
	for _, risk := range updates {
		newMap[risk.UserID] = risk
	}

	idx.data.Store(&newMap)
}

// Set 更新单个账户
//
// 注意: 每次调用复制整表，高频路径请用 BatchUpdate
func (idx *RiskIndex) Set(risk AccountRisk) {
	idx.BatchUpdate([]AccountRisk{risk}, nil)
}

// Remove 移除单个账户
func (idx *RiskIndex) Remove(userID int64) {
	idx.BatchUpdate(nil, []int64{userID})
}
