package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/mtfengine/internal/domain"
)

func TestScenario6RollupDeterminism(t *testing.T) {
	b := NewBuffer(12)

	bars := make([]domain.Bar, 12)
	open := 100.0
	for i := range bars {
		high := open + float64(i%3) + 1
		low := open - float64(i%2) - 1
		bars[i] = domain.Bar{
			TsMs:   int64(i+1) * 300_000,
			BarID:  int64(i + 1),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  open + 0.5,
			Volume: 10 + float64(i),
		}
		open = bars[i].Close
	}

	var out domain.Bar
	var emitted bool
	for _, bar := range bars {
		out, emitted = b.Push(bar)
	}

	assert.True(t, emitted)
	assert.Equal(t, 1, b.EmittedCount())
	assert.Equal(t, bars[0].Open, out.Open)
	assert.Equal(t, bars[len(bars)-1].Close, out.Close)

	wantHigh := bars[0].High
	wantLow := bars[0].Low
	wantVolume := 0.0
	for _, bar := range bars {
		if bar.High > wantHigh {
			wantHigh = bar.High
		}
		if bar.Low < wantLow {
			wantLow = bar.Low
		}
		wantVolume += bar.Volume
	}
	assert.Equal(t, wantHigh, out.High)
	assert.Equal(t, wantLow, out.Low)
	assert.InDelta(t, wantVolume, out.Volume, 1e-9)
}
