// 文件: pkg/margin/math_test.go
// 定点数运算单元测试

package margin

import (
	"errors"
	"math"
	"testing"
)

func TestCheckedAdd(t *testing.T) {
	cases := []struct {
		name    string
		a, b    int64
		want    int64
		wantErr bool
	}{
		{"simple", 100, 200, 300, false},
		{"negative", -100, -200, -300, false},
		{"mixed", -100, 300, 200, false},
		{"max boundary", math.MaxInt64 - 1, 1, math.MaxInt64, false},
		{"overflow positive", math.MaxInt64, 1, 0, true},
		{"min boundary", math.MinInt64 + 1, -1, math.MinInt64, false},
		{"overflow negative", math.MinInt64, -1, 0, true},
	}

	for _, c := range cases {
		got, err := checkedAdd(c.a, c.b)
		if c.wantErr {
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("%s: expected ErrOverflow, got %v", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}

func TestCheckedSub(t *testing.T) {
	cases := []struct {
		name    string
		a, b    int64
		want    int64
		wantErr bool
	}{
		{"simple", 300, 200, 100, false},
		{"to negative", 100, 300, -200, false},
		{"overflow positive", math.MaxInt64, -1, 0, true},
		{"overflow negative", math.MinInt64, 1, 0, true},
		{"sub min", 0, math.MinInt64, 0, true},
	}

	for _, c := range cases {
		got, err := checkedSub(c.a, c.b)
		if c.wantErr {
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("%s: expected ErrOverflow, got %v", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}

func TestMulDiv(t *testing.T) {
	cases := []struct {
		name      string
		a, b, den int64
		want      int64
		wantErr   bool
	}{
		// 1000 token (1e8) × 1 USDT (1e8) / 1e8 = 1000 USDT (1e8)
		{"spot value", 1000 * Precision, 1 * Precision, Precision, 1000 * Precision, false},
		// 中间值冲破 int64 但结果在范围内:
		// 1000 BTC × 100000 USDT → 1e21 / 1e8 = 1e13 (1e8 精度下 = 1 亿 USDT)
		{"wide intermediate", 1000 * Precision, 100_000 * Precision, Precision, 100_000_000 * Precision, false},
		{"negative a", -10 * Precision, 5 * Precision, Precision, -50 * Precision, false},
		{"negative both", -10 * Precision, -5 * Precision, Precision, 50 * Precision, false},
		// 向零截断: 7 × 3 / 10 = 2 (不是 2.1 也不是 3)
		{"truncate positive", 7, 3, 10, 2, false},
		{"truncate negative", -7, 3, 10, -2, false},
		// 权重: 1000 USDT × 8000 / 10000 = 800 USDT
		{"weight", 1000 * Precision, 8000, WeightPrecision, 800 * Precision, false},
		{"result overflow", math.MaxInt64, math.MaxInt64, 1, 0, true},
		{"zero denominator", 1, 1, 0, 0, true},
		{"min int64 operand", math.MinInt64, 1, 1, math.MinInt64, false},
	}

	for _, c := range cases {
		got, err := mulDiv(c.a, c.b, c.den)
		if c.wantErr {
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("%s: expected ErrOverflow, got %v", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}

func TestAbsI64(t *testing.T) {
	if v, err := absI64(-42); err != nil || v != 42 {
		t.Errorf("absI64(-42) = %d, %v", v, err)
	}
	if v, err := absI64(42); err != nil || v != 42 {
		t.Errorf("absI64(42) = %d, %v", v, err)
	}
	if _, err := absI64(math.MinInt64); !errors.Is(err, ErrOverflow) {
		t.Errorf("absI64(MinInt64) should overflow, got %v", err)
	}
}
