// 文件: pkg/margin/errors.go
// 错误定义
//
// 错误分类 (全部向上抛，核心内部不吞、不打日志、不重试):
// - ErrInvalidMarketState: 仓位引用的市场在快照里不存在 (调用方传了不一致的输入)
// - ErrOverflow:           定点数运算越界 (输入损坏，或数值真的超出协议范围)
// - ConstructionError:     构造时遍历仓位遇到的第一个错误的包装

package margin

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMarketState 仓位的 market index 在 MarketState 里没有对应条目
	ErrInvalidMarketState = errors.New("margin: invalid market state")

	// ErrOverflow int64 定点数运算越界
	ErrOverflow = errors.New("margin: fixed-point overflow")
)

// invalidMarketf 带上下文包装 ErrInvalidMarketState
func invalidMarketf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMarketState, fmt.Sprintf(format, args...))
}

// ConstructionError 构造失败
//
// FromUser 遍历仓位时遇到第一个错误就终止，
// 不会返回半成品对象 —— 要么完整构造成功，要么什么都没有。
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("margin: construction failed: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
