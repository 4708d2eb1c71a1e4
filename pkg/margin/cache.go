// 文件: pkg/margin/cache.go
// 贡献缓存 - 仓位标识 → 最后一次计算的贡献

package margin

// contributionCache 贡献缓存
//
// hash map，插入/查找/替换都是 O(1)，无顺序保证。
//
// 【平仓策略】
// 仓位平掉后不删除条目，而是用零值贡献替换 ——
// 零值对累加器每个字段的贡献都是 0，留着不影响正确性，
// 而且"更新"和"平仓"走同一条代码路径，少一个分支就少一类 bug。
type contributionCache struct {
	entries map[PositionKey]PositionContribution
}

func newContributionCache() contributionCache {
	return contributionCache{
		entries: make(map[PositionKey]PositionContribution),
	}
}

// get 查找贡献
func (c *contributionCache) get(key PositionKey) (PositionContribution, bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

// insertOrReplace 写入贡献，返回之前的值 (如果有)
//
// 调用方拿旧值从累加器里减掉，再把新值加回去 —— 这是增量更新的全部。
func (c *contributionCache) insertOrReplace(key PositionKey, contribution PositionContribution) (PositionContribution, bool) {
	prev, existed := c.entries[key]
	c.entries[key] = contribution
	return prev, existed
}

// len 缓存条目数
func (c *contributionCache) len() int {
	return len(c.entries)
}

// forEach 遍历所有条目 (仅测试/校验用，无顺序保证)
func (c *contributionCache) forEach(fn func(key PositionKey, contribution PositionContribution)) {
	for k, v := range c.entries {
		fn(k, v)
	}
}
