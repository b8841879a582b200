package balance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// Validate 检查账务闭合：equity == initial + realized
func (m *Manager) Validate() ValidationResult {
	var issues []string
	theoretical := m.initial.Add(m.realized)
	if !m.equity.Equal(theoretical) {
		issues = append(issues, fmt.Sprintf("equity %s != initial %s + realized %s", m.equity, m.initial, m.realized))
	}
	for id, r := range m.reservations {
		if r.Outstanding.IsNegative() || r.Outstanding.GreaterThan(r.Amount) {
			issues = append(issues, fmt.Sprintf("reservation %s outstanding %s out of range [0, %s]", id, r.Outstanding, r.Amount))
		}
		if _, ok := m.consumed[id]; ok {
			issues = append(issues, fmt.Sprintf("reservation %s both active and consumed", id))
		}
	}
	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type RiskStatus struct {
	Level    RiskLevel `json:"level"`
	Warnings []string  `json:"warnings"`
}

// criticalLossPercent 相对初始资金亏损超过 20% 视为危险
var criticalLossPercent = decimal.NewFromInt(-20)

// RiskStatus 敞口接近上限、余额不足以开下一仓、大幅亏损都会产生告警
func (m *Manager) RiskStatus(maxExposurePercent, nextPositionCost decimal.Decimal) RiskStatus {
	var warnings []string
	critical := false

	exposure := m.ExposurePercent()
	if exposure.GreaterThan(maxExposurePercent.Mul(decimal.RequireFromString("0.9"))) {
		warnings = append(warnings, fmt.Sprintf("high exposure: %s%%", exposure.StringFixed(1)))
	}
	if m.Available().LessThan(nextPositionCost) {
		warnings = append(warnings, "insufficient funds for new positions")
	}
	if m.initial.IsPositive() {
		change := m.equity.Sub(m.initial).Div(m.initial).Mul(decimal.NewFromInt(100))
		if change.LessThan(criticalLossPercent) {
			warnings = append(warnings, fmt.Sprintf("critical loss: %s%%", change.StringFixed(1)))
			critical = true
		}
	}

	level := RiskLow
	switch {
	case critical:
		level = RiskCritical
	case len(warnings) > 1:
		level = RiskHigh
	case len(warnings) == 1:
		level = RiskMedium
	}
	return RiskStatus{Level: level, Warnings: warnings}
}
