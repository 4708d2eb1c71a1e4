// 文件: pkg/margin/math.go
// 带溢出检查的定点数运算
//
// 【为什么不用 float64?】
// 浮点数有舍入误差，保证金计算必须和全量重算 bit-for-bit 一致。
// 这里全部用 int64 定点数 + 128 位中间值，越界返回 ErrOverflow 而不是静默回绕。
//
// 【舍入规则】
// mulDiv 向零截断，和链上账本的整数除法语义一致。

package margin

import (
	"math"
	"math/bits"
)

// checkedAdd a + b，越界返回 ErrOverflow
func checkedAdd(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// checkedSub a - b，越界返回 ErrOverflow
func checkedSub(a, b int64) (int64, error) {
	if b < 0 && a > math.MaxInt64+b {
		return 0, ErrOverflow
	}
	if b > 0 && a < math.MinInt64+b {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// mulDiv 计算 a * b / den，中间值用 128 位，向零截断
//
// 两个 1e8 精度的数直接相乘会轻易冲破 int64
// (1000 BTC × 100000 USDT = 1e21 > 9.2e18)，
// 所以乘法必须先升到 128 位再除回精度因子。
func mulDiv(a, b, den int64) (int64, error) {
	if den <= 0 {
		return 0, ErrOverflow
	}

	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absU64(a), absU64(b))

	// bits.Div64 要求 hi < 除数，否则商超出 64 位
	uden := uint64(den)
	if hi >= uden {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, uden)

	if neg {
		// -q 最小可以到 MinInt64
		if q > uint64(math.MaxInt64)+1 {
			return 0, ErrOverflow
		}
		if q == uint64(math.MaxInt64)+1 {
			return math.MinInt64, nil
		}
		return -int64(q), nil
	}
	if q > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

// absU64 取绝对值并安全转 uint64 (MinInt64 取反会回绕，必须走 uint64)
func absU64(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

// absI64 int64 绝对值，MinInt64 返回 ErrOverflow
func absI64(x int64) (int64, error) {
	if x == math.MinInt64 {
		return 0, ErrOverflow
	}
	if x < 0 {
		return -x, nil
	}
	return x, nil
}

// maxI64 两数取大
func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
