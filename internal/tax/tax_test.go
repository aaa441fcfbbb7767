package tax

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int64
		rate     float64
		wantVAT  int64
		wantTot  int64
	}{
		{"standard czech vat", 1000, 21, 210, 1210},
		{"half up rounding", 333, 21, 70, 403}, // 69.93 rounds up
		{"rounds down below half", 100, 21.4, 21, 121},
		{"zero rate", 1000, 0, 0, 1000},
		{"negative rate ignored", 1000, -5, 0, 1000},
		{"zero subtotal", 0, 21, 0, 0},
		{"negative subtotal ignored", -100, 21, 0, -100},
		{"reduced rate", 1500, 12, 180, 1680},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vat, total := Compute(tt.subtotal, tt.rate)
			assert.Equal(t, tt.wantVAT, vat)
			assert.Equal(t, tt.wantTot, total)
		})
	}
}

func TestCompute_SingleRoundingNoDrift(t *testing.T) {
	// Three lines summed first, then taxed once, must equal taxing the
	// combined subtotal directly.
	lines := []int64{333, 333, 334}
	var subtotal int64
	for _, line := range lines {
		subtotal += line
	}

	vat, total := Compute(subtotal, 21)
	assert.Equal(t, int64(210), vat)
	assert.Equal(t, int64(1210), total)
}
