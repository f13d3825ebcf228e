package rules

import (
	"math"
	"slices"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newStatic(t *testing.T, cfg StaticConfig) *StaticRuleSet {
	t.Helper()
	s, err := NewStaticRuleSet(cfg)
	if err != nil {
		t.Fatalf("failed to create static rule set: %v", err)
	}
	return s
}

func TestStaticRuleSet(t *testing.T) {
	s := newStatic(t, DefaultStaticConfig())

	tests := []struct {
		name        string
		tx          domain.Transaction
		wantScore   float64
		wantReasons []string
	}{
		{
			name:      "NothingTriggered",
			tx:        domain.Transaction{ID: "tx-1", Amount: 500, PaymentMode: domain.PaymentModeUPI, Channel: domain.ChannelPOS},
			wantScore: 0,
		},
		{
			name:      "ChannelAndMode",
			tx:        domain.Transaction{ID: "tx-2", Amount: 1000, PaymentMode: domain.PaymentModeCreditCard, Channel: domain.ChannelWeb},
			wantScore: 0.4,
			wantReasons: []string{
				"High-risk channel: web",
				"High-risk payment mode: credit_card",
			},
		},
		{
			name:        "AboveAmountFloor",
			tx:          domain.Transaction{ID: "tx-3", Amount: 15000, Channel: domain.ChannelBranch},
			wantScore:   0.2,
			wantReasons: []string{"Amount 15000.00 exceeds 10000.00"},
		},
		{
			name:        "AboveHalfThreshold",
			tx:          domain.Transaction{ID: "tx-4", Amount: 30000, Channel: domain.ChannelBranch},
			wantScore:   0.3,
			wantReasons: []string{"Amount 30000.00 exceeds half of threshold 50000.00"},
		},
		{
			name:        "AboveThreshold",
			tx:          domain.Transaction{ID: "tx-5", Amount: 60000, Channel: domain.ChannelBranch},
			wantScore:   0.5,
			wantReasons: []string{"Amount 60000.00 exceeds threshold 50000.00"},
		},
		{
			name:        "ExactlyAtThresholdFallsToHalfBand",
			tx:          domain.Transaction{ID: "tx-6", Amount: 50000},
			wantScore:   0.3,
			wantReasons: []string{"Amount 50000.00 exceeds half of threshold 50000.00"},
		},
		{
			name:      "ExactlyAtFloorNoBand",
			tx:        domain.Transaction{ID: "tx-7", Amount: 10000},
			wantScore: 0,
		},
		{
			name:      "AllRules",
			tx:        domain.Transaction{ID: "tx-8", Amount: 75000, PaymentMode: domain.PaymentModeDigitalWallet, Channel: domain.ChannelMobileApp},
			wantScore: 0.9,
			wantReasons: []string{
				"Amount 75000.00 exceeds threshold 50000.00",
				"High-risk channel: mobile_app",
				"High-risk payment mode: digital_wallet",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reasons := s.Score(&tt.tx)
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("expected score %.2f, got %.4f", tt.wantScore, score)
			}
			if !slices.Equal(reasons, tt.wantReasons) {
				t.Errorf("expected reasons %q, got %q", tt.wantReasons, reasons)
			}
		})
	}
}

func TestStaticConfigMerge(t *testing.T) {
	base := DefaultStaticConfig()

	t.Run("EmptyOverrideKeepsDefaults", func(t *testing.T) {
		got := base.Merge(StaticConfig{})
		if got.AmountThreshold != 50000 {
			t.Errorf("expected threshold 50000, got %v", got.AmountThreshold)
		}
		if !slices.Equal(got.HighRiskChannels, base.HighRiskChannels) {
			t.Errorf("expected default channels, got %v", got.HighRiskChannels)
		}
	})

	t.Run("ListsReplacedWholesale", func(t *testing.T) {
		got := base.Merge(StaticConfig{HighRiskChannels: []string{"phone"}})
		if !slices.Equal(got.HighRiskChannels, []string{"phone"}) {
			t.Errorf("expected [phone], got %v", got.HighRiskChannels)
		}
		if !slices.Equal(got.HighRiskPaymentModes, base.HighRiskPaymentModes) {
			t.Errorf("expected default modes untouched, got %v", got.HighRiskPaymentModes)
		}
	})

	t.Run("EmptyListDisablesRule", func(t *testing.T) {
		cfg := base.Merge(StaticConfig{HighRiskChannels: []string{}})
		s := newStatic(t, cfg)

		score, reasons := s.Score(&domain.Transaction{ID: "tx", Amount: 100, Channel: "web"})
		if score != 0 || len(reasons) != 0 {
			t.Errorf("expected no contribution, got %v %v", score, reasons)
		}
	})

	t.Run("ThresholdOverride", func(t *testing.T) {
		s := newStatic(t, base.Merge(StaticConfig{AmountThreshold: 20000}))

		score, _ := s.Score(&domain.Transaction{ID: "tx", Amount: 25000})
		if score != ScoreAboveThreshold {
			t.Errorf("expected %.1f, got %v", ScoreAboveThreshold, score)
		}
	})
}
