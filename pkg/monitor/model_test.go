// 文件: pkg/monitor/model_test.go
// 风险等级划分测试

package monitor

import (
	"testing"

	"marginx.com/pkg/margin"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		ratioBps int64
		want     RiskLevel
	}{
		{"zero ratio is safe", 0, RiskLevelSafe},
		{"below warning line", 6999, RiskLevelSafe},
		{"at warning line", 7000, RiskLevelWarning},
		{"between warning and danger", 8500, RiskLevelWarning},
		{"at danger line", 9000, RiskLevelDanger},
		{"just below liquidation", 9999, RiskLevelDanger},
		{"at liquidation line", 10000, RiskLevelLiquidatable},
		{"deep under water", 25000, RiskLevelLiquidatable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.ratioBps); got != tt.want {
				t.Errorf("classify(%d) = %v, want %v", tt.ratioBps, got, tt.want)
			}
		})
	}
}

func TestRiskRatioBps(t *testing.T) {
	// 1. 正常账户: 需求 55e7，抵押 1010e8 → 5 bps (截断)
	calc := margin.MarginCalculation{
		TotalCollateral:   1010 * margin.Precision,
		MarginRequirement: 55 * margin.Precision / 10,
	}
	if got := riskRatioBps(calc); got != 54 {
		t.Errorf("ratio = %d, want 54", got)
	}

	// 2. 无需求: 占用率 0
	calc = margin.MarginCalculation{TotalCollateral: 100 * margin.Precision}
	if got := riskRatioBps(calc); got != 0 {
		t.Errorf("ratio with no requirement = %d, want 0", got)
	}

	// 3. 穿仓: 抵押为零但还有需求 → 超过强平线的哨兵值
	calc = margin.MarginCalculation{
		TotalCollateral:   0,
		MarginRequirement: margin.Precision,
	}
	if got := riskRatioBps(calc); got <= LiquidateBps {
		t.Errorf("ratio for zero collateral = %d, want > %d", got, LiquidateBps)
	}

	// 4. 抵押为负同样按穿仓处理
	calc = margin.MarginCalculation{
		TotalCollateral:   -margin.Precision,
		MarginRequirement: margin.Precision,
	}
	if classify(riskRatioBps(calc)) != RiskLevelLiquidatable {
		t.Error("negative collateral with requirement should be liquidatable")
	}

	// 5. 大额账户走防溢出分支，结果仍在正确量级
	calc = margin.MarginCalculation{
		TotalCollateral:   (1 << 62) / 100,
		MarginRequirement: (1 << 62) / 200, // 一半 → 约 5000 bps
	}
	got := riskRatioBps(calc)
	if got < 4990 || got > 5010 {
		t.Errorf("large account ratio = %d, want ~5000", got)
	}
}

func TestRiskLevelString(t *testing.T) {
	cases := map[RiskLevel]string{
		RiskLevelSafe:         "SAFE",
		RiskLevelWarning:      "WARNING",
		RiskLevelDanger:       "DANGER",
		RiskLevelLiquidatable: "LIQUIDATABLE",
		RiskLevel(99):         "UNKNOWN",
	}
	for level, want := range cases {
		if level.String() != want {
			t.Errorf("RiskLevel(%d).String() = %q, want %q", level, level.String(), want)
		}
	}
}
