package controller

import "testing"

func TestNormalizeToUSDT(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BTCUSD", "BTCUSDT"},
		{"ethusd", "ETHUSDT"},
		{" solusdt ", "SOLUSDT"},
		{"BTCUSDT", "BTCUSDT"},
		{"ETHBTC", "ETHBTC"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeToUSDT(tt.input); got != tt.expected {
			t.Fatalf("expected %q -> %q, got %q", tt.input, tt.expected, got)
		}
	}
}
