package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.RiskAversion)
	assert.Equal(t, 0.25, cfg.MaxAllocation)
	assert.Equal(t, 0.15, cfg.RebalanceThreshold)
	assert.Equal(t, []int{3, 15}, cfg.RebalanceHours)
	assert.Equal(t, 15*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 10.0, cfg.MinOrderValue)
	assert.Equal(t, 0.01, cfg.MinProfitFraction)
	assert.Equal(t, 90, cfg.CycleLookbackDays)
	assert.Equal(t, 8*time.Hour, cfg.CycleUpdateInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RISK_AVERSION", "0.9")
	t.Setenv("SCHEDULED_REBALANCE_HOURS", "0, 8, 16")
	t.Setenv("PORTFOLIO_CHECK_INTERVAL_MINUTES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.RiskAversion)
	assert.Equal(t, []int{0, 8, 16}, cfg.RebalanceHours)
	assert.Equal(t, 5*time.Minute, cfg.CheckInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric float", "RISK_AVERSION", "high"},
		{"hour out of range", "SCHEDULED_REBALANCE_HOURS", "25"},
		{"inverted bounds", "MIN_ALLOCATION_PER_ASSET", "0.5"},
		{"cash reserve too large", "CASH_RESERVE", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
