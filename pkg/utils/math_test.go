package utils

import (
	"math"
	"testing"
)

func TestNormalizeFundingRate(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		interval float64
		expected float64
	}{
		{"8h native", 0.0025, 8, 0.0025},
		{"1h native", 0.0025, 1, 0.0025 / 8},
		{"4h native", 0.002, 4, 0.001},
		{"above 8h untouched", 0.0025, 24, 0.0025},
		{"zero interval untouched", 0.0025, 0, 0.0025},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeFundingRate(tt.rate, tt.interval)
			if !floatEquals(result, tt.expected) {
				t.Errorf("NormalizeFundingRate(%v, %v) = %v, want %v",
					tt.rate, tt.interval, result, tt.expected)
			}
		})
	}
}

func TestBpsFromRateDiff(t *testing.T) {
	if !floatEquals(BpsFromRateDiff(0.0025), 25.0) {
		t.Errorf("BpsFromRateDiff(0.0025) should be 25 bps")
	}
}

func TestDrawdownPct(t *testing.T) {
	tests := []struct {
		name     string
		equity   float64
		peak     float64
		expected float64
	}{
		{"no drawdown", 1000, 1000, 0},
		{"8% drawdown", 920, 1000, 8},
		{"12% drawdown", 880, 1000, 12},
		{"zero peak", 500, 0, 0},
		{"new high ignored negative", 1100, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DrawdownPct(tt.equity, tt.peak)
			if !floatEquals(result, tt.expected) {
				t.Errorf("DrawdownPct(%v, %v) = %v, want %v", tt.equity, tt.peak, result, tt.expected)
			}
		})
	}
}

func TestGrossLeverage(t *testing.T) {
	if !floatEquals(GrossLeverage(200, 100), 2.0) {
		t.Error("GrossLeverage(200, 100) should be 2.0")
	}
	if !floatEquals(GrossLeverage(200, 0), 0) {
		t.Error("GrossLeverage with zero equity should be 0")
	}
}

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.123456, 0.001, 0.123},
		{"round down 2", 1.999, 0.01, 1.99},
		{"whole numbers", 100.5, 1.0, 100.0},
		{"zero value", 0, 0.001, 0},
		{"zero lotSize", 0.123, 0, 0.123},
		{"negative lotSize", 0.123, -0.001, 0.123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round up", 0.1231, 0.001, 0.124},
		{"round up 2", 1.991, 0.01, 2.0},
		{"zero lotSize", 0.123, 0, 0.123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeUp(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSizeUp(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestCalculateWeightedAverage(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		weights  []float64
		expected float64
	}{
		{
			"quality score blend",
			[]float64{1.0, 0.5, 0.8, 0.3, 0.2},
			[]float64{0.30, 0.25, 0.20, 0.15, 0.10},
			0.30*1.0 + 0.25*0.5 + 0.20*0.8 + 0.15*0.3 + 0.10*0.2,
		},
		{"equal weights", []float64{100.0, 102.0}, []float64{1.0, 1.0}, 101.0},
		{"single element", []float64{100.0}, []float64{10.0}, 100.0},
		{"empty values", []float64{}, []float64{}, 0},
		{"length mismatch", []float64{100, 101}, []float64{1}, 0},
		{"zero weights", []float64{100, 101}, []float64{0, 0}, 0},
		{
			"negative weight ignored",
			[]float64{100.0, 101.0, 102.0},
			[]float64{10.0, -5.0, 10.0},
			101.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateWeightedAverage(tt.values, tt.weights)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculateWeightedAverage(%v, %v) = %v, want %v",
					tt.values, tt.weights, result, tt.expected)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		value, min, max, expected float64
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}

	for _, tt := range tests {
		result := Clamp(tt.value, tt.min, tt.max)
		if result != tt.expected {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v",
				tt.value, tt.min, tt.max, result, tt.expected)
		}
	}
}

func BenchmarkNormalizeFundingRate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NormalizeFundingRate(0.0025, 1)
	}
}

func BenchmarkDrawdownPct(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DrawdownPct(920, 1000)
	}
}

func BenchmarkCalculateWeightedAverage(b *testing.B) {
	values := []float64{1.0, 0.5, 0.8, 0.3, 0.2}
	weights := []float64{0.30, 0.25, 0.20, 0.15, 0.10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CalculateWeightedAverage(values, weights)
	}
}

const floatEpsilon = 1e-6

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatEpsilon
}
